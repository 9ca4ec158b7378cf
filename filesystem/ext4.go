package filesystem

import (
  fpmod "path/filepath"

  "subvol_snap/dir_handle"
  "subvol_snap/types"

  "golang.org/x/sys/unix"
)

const EXT4_INFO_DIR = ".info"

// Snapshots are sparse files `.snapshots/<num>` flagged with chsnap,
// they are loop mounted at `<subvolume>@<num>`.
type Ext4Fs struct {
  fsBase
  mntutil types.MountUtil
}

func NewExt4(base fsBase, mntutil types.MountUtil) (*Ext4Fs, error) {
  fs := &Ext4Fs{
    fsBase: base,
    mntutil: mntutil,
  }
  err := fs.requireTools(base.conf.Tools.Chsnap, base.conf.Tools.Chattr)
  if err != nil { return nil, err }
  return fs, nil
}

func (self *Ext4Fs) infosPath() string {
  return fpmod.Join(self.snapshotsPath(), EXT4_INFO_DIR)
}

func (self *Ext4Fs) snapshotFile(num uint) string {
  return fpmod.Join(self.snapshotsPath(), numStr(num))
}

// Splits the mount point into the parent directory and the child to open in it.
func (self *Ext4Fs) snapshotDirParts(num uint) (string, string) {
  parent, base := fpmod.Split(self.SnapshotDir(num))
  return fpmod.Clean(parent), base
}

func (self *Ext4Fs) CreateConfig() error {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()

  created, err := self.mkdirIfMissing(subvol_dir, SNAPSHOTS_DIR, 0700, types.ErrCreateConfigFailed)
  if err != nil { return err }
  if created {
    err = self.run(types.ErrCreateConfigFailed, "chattr", self.snapshotsPath(),
                   self.conf.Tools.Chattr, "+x", self.snapshotsPath())
    if err != nil { return err }
  }

  snaps_dir, err := self.openSnapshotsDirIn(subvol_dir)
  if err != nil { return err }
  defer snaps_dir.Close()
  created, err = self.mkdirIfMissing(snaps_dir, EXT4_INFO_DIR, 0700, types.ErrCreateConfigFailed)
  if err != nil { return err }
  if created {
    err = self.run(types.ErrCreateConfigFailed, "chattr", self.infosPath(),
                   self.conf.Tools.Chattr, "-x", self.infosPath())
    if err != nil { return err }
  }
  self.log.Info.Printf("config ready at '%s'", self.snapshotsPath())
  return nil
}

func (self *Ext4Fs) DeleteConfig() error {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()
  snaps_dir, err := self.openSnapshotsDirIn(subvol_dir)
  if err != nil { return err }
  defer snaps_dir.Close()

  // Nothing is removed while snapshot files remain.
  entries, err := snaps_dir.Entries()
  if err != nil { return self.fail(types.ErrDeleteConfigFailed, "list", self.snapshotsPath(), err) }
  for _,name := range entries {
    if name == EXT4_INFO_DIR { continue }
    return self.fail(types.ErrDeleteConfigFailed, "rmdir", self.snapshotsPath(), unix.ENOTEMPTY)
  }
  if err = snaps_dir.Rmdir(EXT4_INFO_DIR); err != nil {
    return self.fail(types.ErrDeleteConfigFailed, "rmdir", self.infosPath(), err)
  }
  if err = subvol_dir.Rmdir(SNAPSHOTS_DIR); err != nil {
    return self.fail(types.ErrDeleteConfigFailed, "rmdir", self.snapshotsPath(), err)
  }
  self.log.Info.Printf("deleted '%s'", self.snapshotsPath())
  return nil
}

func (self *Ext4Fs) SnapshotDir(num uint) string {
  return self.subvolume + "@" + numStr(num)
}

func (self *Ext4Fs) OpenInfosDir() (*dir_handle.DirHandle, error) {
  snaps_dir, err := self.openSnapshotsDir()
  if err != nil { return nil, err }
  defer snaps_dir.Close()
  infos_dir, err := snaps_dir.OpenDir(EXT4_INFO_DIR)
  if err != nil { return nil, self.fail(types.ErrIOError, "open_infos", self.infosPath(), err) }
  return infos_dir, nil
}

// Only meaningful while the snapshot is mounted.
func (self *Ext4Fs) OpenSnapshotDir(num uint) (*dir_handle.DirHandle, error) {
  parent, name := self.snapshotDirParts(num)
  parent_dir, err := dir_handle.OpenDir(parent)
  if err != nil { return nil, self.fail(types.ErrIOError, "open", parent, err) }
  defer parent_dir.Close()
  snap_dir, err := parent_dir.OpenDir(name)
  if err != nil { return nil, self.fail(types.ErrIOError, "open_snapshot", self.SnapshotDir(num), err) }
  return snap_dir, nil
}

func (self *Ext4Fs) CreateSnapshot(num uint) error {
  snaps_dir, err := self.openSnapshotsDir()
  if err != nil { return err }
  defer snaps_dir.Close()

  if err = snaps_dir.CreateFile(numStr(num), 0600); err != nil {
    return self.fail(types.ErrCreateSnapshotFailed, "create_file", self.snapshotFile(num), err)
  }
  err = self.run(types.ErrCreateSnapshotFailed, "chsnap", self.snapshotFile(num),
                 self.conf.Tools.Chsnap, "+S", self.snapshotFile(num))
  if err != nil { return err }
  self.log.Info.Printf("created '%s'", self.snapshotFile(num))
  return nil
}

// Clearing the flag is what deletes the snapshot, whatever file is left behind gets removed.
func (self *Ext4Fs) DeleteSnapshot(num uint) error {
  err := self.run(types.ErrDeleteSnapshotFailed, "chsnap", self.snapshotFile(num),
                  self.conf.Tools.Chsnap, "-S", self.snapshotFile(num))
  if err != nil { return err }

  snaps_dir, err := self.openSnapshotsDir()
  if err != nil { return err }
  defer snaps_dir.Close()
  err = snaps_dir.Unlink(numStr(num))
  if err != nil && !isErrno(err, unix.ENOENT) {
    self.log.Error.Printf("leftover '%s': %v", self.snapshotFile(num), err)
  }
  self.log.Info.Printf("deleted '%s'", self.snapshotFile(num))
  return nil
}

func (self *Ext4Fs) IsSnapshotMounted(num uint) (bool, error) {
  mnt, err := isMountedAt(self.mntutil, self.SnapshotDir(num))
  if err != nil { return false, self.fail(types.ErrIsSnapshotMountedFailed, "list_mounts", self.SnapshotDir(num), err) }
  return mnt != nil, nil
}

func (self *Ext4Fs) MountSnapshot(num uint) error {
  mounted, err := self.IsSnapshotMounted(num)
  if err != nil || mounted { return err }

  err = self.run(types.ErrMountSnapshotFailed, "chsnap", self.snapshotFile(num),
                 self.conf.Tools.Chsnap, "+n", self.snapshotFile(num))
  if err != nil { return err }

  parent, name := self.snapshotDirParts(num)
  parent_dir, err := dir_handle.OpenDir(parent)
  if err != nil { return self.fail(types.ErrMountSnapshotFailed, "open", parent, err) }
  defer parent_dir.Close()
  if _, err = self.mkdirIfMissing(parent_dir, name, 0755, types.ErrMountSnapshotFailed); err != nil {
    return err
  }

  err = self.run(types.ErrMountSnapshotFailed, "mount", self.SnapshotDir(num),
                 self.conf.Tools.Mount, "-t", "ext4", "-r", "-o", "loop,noload",
                 self.snapshotFile(num), self.SnapshotDir(num))
  if err != nil { return err }
  self.log.Info.Printf("mounted '%s'", self.SnapshotDir(num))
  return nil
}

func (self *Ext4Fs) UmountSnapshot(num uint) error {
  mounted, err := self.IsSnapshotMounted(num)
  if err != nil || !mounted { return err }

  err = self.run(types.ErrUmountSnapshotFailed, "umount", self.SnapshotDir(num),
                 self.conf.Tools.Umount, self.SnapshotDir(num))
  if err != nil { return err }
  err = self.run(types.ErrUmountSnapshotFailed, "chsnap", self.snapshotFile(num),
                 self.conf.Tools.Chsnap, "-n", self.snapshotFile(num))
  if err != nil { return err }

  parent, name := self.snapshotDirParts(num)
  parent_dir, err := dir_handle.OpenDir(parent)
  if err == nil {
    err = parent_dir.Rmdir(name)
    parent_dir.Close()
  }
  if err != nil { self.log.Error.Printf("cannot remove '%s': %v", self.SnapshotDir(num), err) }
  self.log.Info.Printf("unmounted '%s'", self.SnapshotDir(num))
  return nil
}

func (self *Ext4Fs) CheckSnapshot(num uint) bool {
  snaps_dir, err := self.openSnapshotsDir()
  if err != nil { return false }
  defer snaps_dir.Close()
  stat, err := snaps_dir.Stat(numStr(num))
  if err != nil {
    self.log.Debug.Printf("check '%s': %v", self.snapshotFile(num), err)
    return false
  }
  return stat.Mode & unix.S_IFMT == unix.S_IFREG
}
