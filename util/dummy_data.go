package util

import (
  "fmt"
  "hash/adler32"

  "subvol_snap/types"

  "github.com/google/uuid"
)

func DummyDevice(name string) *types.Device {
  if len(name) < 1 { name = fmt.Sprintf("/dev/mapper/%s", uuid.NewString()) }
  id := int(adler32.Checksum([]byte(name)) % 256)
  return &types.Device{
    Name: name,
    Major: 253,
    Minor: id,
  }
}

func DummyMountEntry(device string, mnt_path string, fstype string) *types.MountEntry {
  return &types.MountEntry{
    Device: DummyDevice(device),
    MountedPath: mnt_path,
    FsType: fstype,
    Options: map[string]string{
      "rw": "",
      "relatime": "",
    },
  }
}

func DummyConfig(subvols ...*types.SubvolumeConf) *types.Config {
  conf := &types.Config{
    Debug: true,
    Subvolumes: subvols,
  }
  ApplyDefaults(conf)
  return conf
}

func DummySubvolumeConf(fstype string, path string) *types.SubvolumeConf {
  return &types.SubvolumeConf{
    Name: uuid.NewString(),
    FsType: fstype,
    Path: path,
  }
}
