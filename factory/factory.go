package factory

import (
  "fmt"
  "log"

  "subvol_snap/filesystem"
  "subvol_snap/shim"
  "subvol_snap/types"
  "subvol_snap/util"
)

// Builds the backends of the subvolumes in the config, all of them share the same system shims.
type Factory struct {
  conf      *types.Config
  logger    *log.Logger
  btrfsutil types.Btrfsutil
  sysutil   types.SysUtil
  mntutil   types.MountUtil
}

func NewFactory(conf *types.Config, logger *log.Logger) (*Factory, error) {
  if conf == nil { return nil, fmt.Errorf("%w: no config", types.ErrInvalidConfig) }
  factory := &Factory{
    conf: conf,
    logger: logger,
    btrfsutil: shim.NewBtrfsutil(),
    sysutil: shim.NewSysUtil(),
    mntutil: shim.NewMountUtil(),
  }
  return factory, nil
}

func (self *Factory) BuildFilesystem(subvol_name string) (types.Filesystem, error) {
  sv, err := util.SubvolumeByName(self.conf, subvol_name)
  if err != nil { return nil, err }
  return filesystem.Create(self.conf, sv.FsType, sv.Path,
                           self.btrfsutil, self.sysutil, self.mntutil, self.logger)
}

// Fails on the first subvolume that cannot be built.
func (self *Factory) BuildAll() ([]types.Filesystem, error) {
  all := make([]types.Filesystem, 0, len(self.conf.Subvolumes))
  for _,sv := range self.conf.Subvolumes {
    fs, err := self.BuildFilesystem(sv.Name)
    if err != nil { return nil, fmt.Errorf("subvolume '%s': %w", sv.Name, err) }
    all = append(all, fs)
  }
  return all, nil
}
