package filesystem

import (
  "subvol_snap/dir_handle"
  "subvol_snap/types"

  "golang.org/x/sys/unix"
)

// btrfs assigns this inode number to the root directory of every subvolume.
const BTRFS_SUBVOL_ROOT_INO = 256

func isBtrfsSubvolRoot(stat *unix.Stat_t) bool {
  return stat.Ino == BTRFS_SUBVOL_ROOT_INO
}

// Snapshots are read-only subvolumes at `.snapshots/<num>/snapshot`.
type BtrfsFs struct {
  fsBase
  btrfsutil      types.Btrfsutil
  is_subvol_root func(*unix.Stat_t) bool
}

func NewBtrfs(base fsBase, btrfsutil types.Btrfsutil) (*BtrfsFs, error) {
  fs := &BtrfsFs{
    fsBase: base,
    btrfsutil: btrfsutil,
    is_subvol_root: isBtrfsSubvolRoot,
  }
  if err := fs.requireTools(base.conf.Tools.Btrfs); err != nil { return nil, err }
  return fs, nil
}

func (self *BtrfsFs) CreateConfig() error {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()

  err = self.btrfsutil.CreateSubvolume(subvol_dir.Fd(), SNAPSHOTS_DIR)
  if err != nil { return self.fail(types.ErrCreateConfigFailed, "create_subvolume", self.snapshotsPath(), err) }
  self.log.Info.Printf("created '%s'", self.snapshotsPath())
  return nil
}

// The kernel would happily destroy a subvolume with snapshots inside, so emptiness is checked first.
func (self *BtrfsFs) DeleteConfig() error {
  infos_dir, err := self.OpenInfosDir()
  if err != nil { return err }
  entries, err := infos_dir.Entries()
  infos_dir.Close()
  if err != nil { return self.fail(types.ErrDeleteConfigFailed, "list", self.snapshotsPath(), err) }
  if len(entries) > 0 {
    return self.fail(types.ErrDeleteConfigFailed, "delete_subvolume", self.snapshotsPath(), unix.ENOTEMPTY)
  }

  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()
  err = self.btrfsutil.DeleteSubvolume(subvol_dir.Fd(), SNAPSHOTS_DIR)
  if err != nil { return self.fail(types.ErrDeleteConfigFailed, "delete_subvolume", self.snapshotsPath(), err) }
  self.log.Info.Printf("deleted '%s'", self.snapshotsPath())
  return nil
}

func (self *BtrfsFs) SnapshotDir(num uint) string { return self.nestedSnapshotDir(num) }

func (self *BtrfsFs) OpenInfosDir() (*dir_handle.DirHandle, error) {
  return self.openSnapshotsDir()
}

func (self *BtrfsFs) OpenSnapshotDir(num uint) (*dir_handle.DirHandle, error) {
  return self.openNestedSnapshotDir(num)
}

func (self *BtrfsFs) CreateSnapshot(num uint) error {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()
  snaps_dir, err := self.openSnapshotsDirIn(subvol_dir)
  if err != nil { return err }
  defer snaps_dir.Close()
  info_dir, err := self.openInfoDir(snaps_dir, num)
  if err != nil { return err }
  defer info_dir.Close()

  err = self.btrfsutil.CreateSnapshot(subvol_dir.Fd(), info_dir.Fd(), SNAPSHOT_NAME, true)
  if err != nil { return self.fail(types.ErrCreateSnapshotFailed, "create_snapshot", self.SnapshotDir(num), err) }
  self.log.Info.Printf("created '%s'", self.SnapshotDir(num))
  return nil
}

func (self *BtrfsFs) DeleteSnapshot(num uint) error {
  info_dir, err := self.openNestedInfoDir(num)
  if err != nil { return err }
  defer info_dir.Close()

  err = self.btrfsutil.DeleteSubvolume(info_dir.Fd(), SNAPSHOT_NAME)
  if err != nil { return self.fail(types.ErrDeleteSnapshotFailed, "delete_subvolume", self.SnapshotDir(num), err) }
  self.log.Info.Printf("deleted '%s'", self.SnapshotDir(num))
  return nil
}

// Snapshots live inside the mounted filesystem.
func (self *BtrfsFs) IsSnapshotMounted(num uint) (bool, error) { return true, nil }
func (self *BtrfsFs) MountSnapshot(num uint) error { return nil }
func (self *BtrfsFs) UmountSnapshot(num uint) error { return nil }

// A plain directory at the snapshot path is not a snapshot.
func (self *BtrfsFs) CheckSnapshot(num uint) bool {
  info_dir, err := self.openNestedInfoDir(num)
  if err != nil { return false }
  defer info_dir.Close()
  stat, err := info_dir.Stat(SNAPSHOT_NAME)
  if err != nil {
    self.log.Debug.Printf("check '%s': %v", self.SnapshotDir(num), err)
    return false
  }
  return stat.Mode & unix.S_IFMT == unix.S_IFDIR && self.is_subvol_root(stat)
}
