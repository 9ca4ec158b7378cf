package types

type ToolPaths struct {
  Btrfs    string `json:"btrfs"`
  Chattr   string `json:"chattr"`
  Chsnap   string `json:"chsnap"`
  Mount    string `json:"mount"`
  Umount   string `json:"umount"`
  Lvcreate string `json:"lvcreate"`
  Lvremove string `json:"lvremove"`
  Lvchange string `json:"lvchange"`
  Lvs      string `json:"lvs"`
}

type SubvolumeConf struct {
  Name   string `json:"name"`
  // One of "btrfs", "ext4" or "lvm(<mount fstype>)".
  FsType string `json:"fstype"`
  Path   string `json:"path"`
}

type Config struct {
  // Empty means the default location, see `util.DefaultLogFile`.
  LogFile    string           `json:"log_file"`
  Debug      bool             `json:"debug"`
  Tools      ToolPaths        `json:"tools"`
  // Copy-on-write area of old-style (non thin) lvm snapshots, passed to `lvcreate --extents`.
  LvmCowSize string           `json:"lvm_cow_size"`
  Subvolumes []*SubvolumeConf `json:"subvolumes"`
}
