package types

import (
  "fmt"

  "subvol_snap/dir_handle"
)

// Closed set of storage technologies, one backend each.
type FsKind int

const (
  FS_UNKNOWN FsKind = iota
  FS_BTRFS
  FS_EXT4
  FS_LVM
)

func (self FsKind) String() string {
  switch self {
    case FS_BTRFS: return "btrfs"
    case FS_EXT4:  return "ext4"
    case FS_LVM:   return "lvm"
  }
  return fmt.Sprintf("unknown(%d)", int(self))
}

// Manages the snapshots of a single subvolume.
// Implementations are NOT thread safe, calls against the same subvolume must be serialized by the caller.
// Every method fails with an `FsError` whose kind is one of the `ErrXXX` in this package.
type Filesystem interface {
  Kind() FsKind
  // The tag this backend was created from, for example "lvm(ext4)".
  FsType() string
  Subvolume() string

  // Creates the infrastructure holding the snapshots (a directory, a subvolume...).
  CreateConfig() error
  // The opposite of `CreateConfig`, fails unless the infrastructure is empty.
  DeleteConfig() error

  // Where snapshot `num` can be accessed once mounted. Path computation only, no I/O.
  SnapshotDir(num uint) string

  // Returned handles are owned by the caller who must close them.
  OpenInfosDir() (*dir_handle.DirHandle, error)
  OpenSnapshotDir(num uint) (*dir_handle.DirHandle, error)

  // The per snapshot info directory `<infos dir>/<num>` is created by the caller
  // for the backends that need it (btrfs, lvm).
  CreateSnapshot(num uint) error
  DeleteSnapshot(num uint) error

  IsSnapshotMounted(num uint) (bool, error)
  // No-op if already mounted.
  MountSnapshot(num uint) error
  // No-op if already unmounted.
  UmountSnapshot(num uint) error

  // True if the snapshot exists and looks sane, regardless of its mount state.
  CheckSnapshot(num uint) bool
}

type LvmFilesystem interface {
  Filesystem
  VgName() string
  LvName() string
  // True if the base volume lives in a thin pool.
  IsThin() bool
  SnapshotLvName(num uint) string
  // Failure returns `ErrLvmActivation`.
  ActivateSnapshot(vg_name string, lv_name string) error
  // Failure returns `ErrLvmDeactivation`.
  DeactivateSnapshot(vg_name string, lv_name string) error
  // Asks lvm, not the mount table. Fails if the volume does not exist.
  DetectInactiveSnapshot(vg_name string, lv_name string) (bool, error)
}
