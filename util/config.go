package util

import (
  "fmt"
  "io"
  fpmod "path/filepath"
  "strings"

  "subvol_snap/types"

  "github.com/function61/gokit/jsonfile"
)

const (
  DEF_BTRFS_BIN    = "/sbin/btrfs"
  DEF_CHATTR_BIN   = "/usr/bin/chattr"
  DEF_CHSNAP_BIN   = "/sbin/chsnap"
  DEF_MOUNT_BIN    = "/bin/mount"
  DEF_UMOUNT_BIN   = "/bin/umount"
  DEF_LVCREATE_BIN = "/sbin/lvcreate"
  DEF_LVREMOVE_BIN = "/sbin/lvremove"
  DEF_LVCHANGE_BIN = "/sbin/lvchange"
  DEF_LVS_BIN      = "/sbin/lvs"
  DEF_LVM_COW_SIZE = "10%ORIGIN"
)

const DEF_CONFIG_PATH = "/etc/subvol_snap.json"

// Reads a json config, unknown fields are an error.
func LoadConfig(path string) (*types.Config, error) {
  conf := &types.Config{}
  if err := jsonfile.Read(path, conf, true); err != nil {
    return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
  }
  return finishConfig(conf)
}

func ParseConfig(reader io.Reader) (*types.Config, error) {
  conf := &types.Config{}
  if err := jsonfile.Unmarshal(reader, conf, true); err != nil {
    return nil, fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
  }
  return finishConfig(conf)
}

func finishConfig(conf *types.Config) (*types.Config, error) {
  ApplyDefaults(conf)
  if err := ValidateConfig(conf); err != nil { return nil, err }
  return conf, nil
}

func setIfEmpty(field *string, val string) {
  if len(*field) < 1 { *field = val }
}

func ApplyDefaults(conf *types.Config) {
  setIfEmpty(&conf.Tools.Btrfs, DEF_BTRFS_BIN)
  setIfEmpty(&conf.Tools.Chattr, DEF_CHATTR_BIN)
  setIfEmpty(&conf.Tools.Chsnap, DEF_CHSNAP_BIN)
  setIfEmpty(&conf.Tools.Mount, DEF_MOUNT_BIN)
  setIfEmpty(&conf.Tools.Umount, DEF_UMOUNT_BIN)
  setIfEmpty(&conf.Tools.Lvcreate, DEF_LVCREATE_BIN)
  setIfEmpty(&conf.Tools.Lvremove, DEF_LVREMOVE_BIN)
  setIfEmpty(&conf.Tools.Lvchange, DEF_LVCHANGE_BIN)
  setIfEmpty(&conf.Tools.Lvs, DEF_LVS_BIN)
  setIfEmpty(&conf.LvmCowSize, DEF_LVM_COW_SIZE)
}

func ValidateConfig(conf *types.Config) error {
  names := make(map[string]bool)
  for _,sv := range conf.Subvolumes {
    if sv == nil || len(sv.Name) < 1 {
      return fmt.Errorf("%w: subvolume without name", types.ErrInvalidConfig)
    }
    if names[sv.Name] {
      return fmt.Errorf("%w: duplicated subvolume '%s'", types.ErrInvalidConfig, sv.Name)
    }
    names[sv.Name] = true
    if !fpmod.IsAbs(sv.Path) {
      return fmt.Errorf("%w: '%s' path must be absolute: '%s'", types.ErrInvalidConfig, sv.Name, sv.Path)
    }
    if len(strings.TrimSpace(sv.FsType)) < 1 {
      return fmt.Errorf("%w: '%s' has no fstype", types.ErrInvalidConfig, sv.Name)
    }
  }
  return nil
}

func SubvolumeByName(conf *types.Config, name string) (*types.SubvolumeConf, error) {
  for _,sv := range conf.Subvolumes {
    if sv.Name == name { return sv, nil }
  }
  return nil, fmt.Errorf("%w: no subvolume named '%s'", types.ErrInvalidConfig, name)
}
