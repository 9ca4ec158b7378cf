package filesystem

import (
  "errors"
  "fmt"
  "log"
  "os/exec"
  fpmod "path/filepath"
  "regexp"
  "strconv"

  "subvol_snap/dir_handle"
  "subvol_snap/types"
  "subvol_snap/util"

  "github.com/function61/gokit/logex"
  "golang.org/x/sys/unix"
)

const SNAPSHOTS_DIR = ".snapshots"
const SNAPSHOT_NAME = "snapshot"

var lvm_fstype_rx = regexp.MustCompile(`^lvm\(([_a-z0-9]+)\)$`)

// Returns the backend kind for `fstype`, for lvm also the type of the filesystem to mount.
func ParseFsType(fstype string) (types.FsKind, string, error) {
  switch fstype {
    case "btrfs": return types.FS_BTRFS, "", nil
    case "ext4":  return types.FS_EXT4, "", nil
  }
  if match := lvm_fstype_rx.FindStringSubmatch(fstype); match != nil {
    return types.FS_LVM, match[1], nil
  }
  return types.FS_UNKNOWN, "", fmt.Errorf("%w: unknown fstype '%s'", types.ErrInvalidConfig, fstype)
}

// The only place where a backend is chosen.
// `logger` may be nil, then nothing is logged.
func Create(
    conf *types.Config, fstype string, subvolume string,
    btrfsutil types.Btrfsutil, sysutil types.SysUtil, mntutil types.MountUtil,
    logger *log.Logger) (types.Filesystem, error) {
  kind, mount_type, err := ParseFsType(fstype)
  if err != nil {
    util.NewLeveled(logex.Prefix("filesystem", logex.NonNil(logger)), conf.Debug).Error.Printf(
      "'%s': %v", subvolume, err)
    return nil, err
  }
  leveled := util.NewLeveled(logex.Prefix(kind.String(), logex.NonNil(logger)), conf.Debug)
  if !fpmod.IsAbs(subvolume) {
    err := fmt.Errorf("%w: subvolume must be absolute: '%s'", types.ErrInvalidConfig, subvolume)
    leveled.Error.Printf("%v", err)
    return nil, err
  }
  base := fsBase{
    kind: kind,
    fstype: fstype,
    subvolume: fpmod.Clean(subvolume),
    conf: conf,
    sysutil: sysutil,
    log: leveled,
    owner_uid: 0,
    owner_gid: 0,
  }
  // Avoid returning typed nil pointers inside the interface.
  switch kind {
    case types.FS_BTRFS:
      fs, err := NewBtrfs(base, btrfsutil)
      if err != nil { return nil, err }
      return fs, nil
    case types.FS_EXT4:
      fs, err := NewExt4(base, mntutil)
      if err != nil { return nil, err }
      return fs, nil
    case types.FS_LVM:
      fs, err := NewLvm(base, mntutil, mount_type)
      if err != nil { return nil, err }
      return fs, nil
  }
  return nil, fmt.Errorf("%w: no backend for '%s'", types.ErrInvalidConfig, fstype)
}

// State and helpers common to all backends.
type fsBase struct {
  kind      types.FsKind
  fstype    string
  subvolume string
  conf      *types.Config
  sysutil   types.SysUtil
  log       *logex.Leveled
  // Required owner of the snapshots directory.
  owner_uid uint32
  owner_gid uint32
}

func (self *fsBase) Kind() types.FsKind { return self.kind }
func (self *fsBase) FsType() string { return self.fstype }
func (self *fsBase) Subvolume() string { return self.subvolume }

func numStr(num uint) string { return strconv.FormatUint(uint64(num), 10) }

// Logs and returns the failure, every public operation error goes through here.
func (self *fsBase) fail(kind error, op string, path string, err error) error {
  fs_err := types.NewFsError(kind, op, path, err)
  self.log.Error.Printf("%v", fs_err)
  return fs_err
}

func (self *fsBase) failf(kind error, op string, path string, format string, args ...interface{}) error {
  return self.fail(kind, op, path, fmt.Errorf(format, args...))
}

// Runs an external program, its output is only kept in the log.
func (self *fsBase) run(kind error, op string, path string, args ...string) error {
  output, err := self.sysutil.CombinedOutput(args)
  if err == nil {
    self.log.Debug.Printf("%s '%s' ok", op, path)
    return nil
  }
  fs_err := types.NewToolError(kind, op, path, args, err)
  self.log.Error.Printf("%v, exit:%d, output: %s", fs_err, types.ExitCode(err), util.TrimOutput(output))
  return fs_err
}

// Same as `run` but stdout is returned, warnings on stderr never mix with the data.
func (self *fsBase) query(kind error, op string, path string, args ...string) (string, error) {
  output, err := self.sysutil.Output(args)
  if err == nil { return string(output), nil }
  fs_err := types.NewToolError(kind, op, path, args, err)
  self.log.Error.Printf("%v, exit:%d, output: %s%s",
                        fs_err, types.ExitCode(err), util.TrimOutput(output), toolStderr(err))
  return "", fs_err
}

func toolStderr(err error) string {
  var exit_err *exec.ExitError
  if !errors.As(err, &exit_err) || len(exit_err.Stderr) < 1 { return "" }
  return ", stderr: " + util.TrimOutput(exit_err.Stderr)
}

func (self *fsBase) requireTools(tools ...string) error {
  for _,tool := range tools {
    if !self.sysutil.IsExecutable(tool) {
      return self.failf(types.ErrProgramNotInstalled, "new_" + self.kind.String(), tool,
                        "%s not installed", tool)
    }
  }
  return nil
}

func (self *fsBase) snapshotsPath() string {
  return fpmod.Join(self.subvolume, SNAPSHOTS_DIR)
}

func (self *fsBase) openSubvolumeDir() (*dir_handle.DirHandle, error) {
  dir, err := dir_handle.OpenDir(self.subvolume)
  if err != nil { return nil, self.fail(types.ErrIOError, "open_subvolume", self.subvolume, err) }
  return dir, nil
}

// The owner check is an integrity check, anybody else owning the directory
// could swap snapshots under our feet.
func (self *fsBase) checkOwner(dir *dir_handle.DirHandle) error {
  stat, err := dir.Stat(dir_handle.CUR_DIR)
  if err != nil { return self.fail(types.ErrIOError, "stat", dir.Path(), err) }
  if stat.Mode & unix.S_IFMT != unix.S_IFDIR {
    return self.failf(types.ErrIOError, "check_owner", dir.Path(), "not a directory")
  }
  if stat.Uid != self.owner_uid || stat.Gid != self.owner_gid {
    return self.failf(types.ErrIOError, "check_owner", dir.Path(),
                      "owner of %s wrong %d:%d", SNAPSHOTS_DIR, stat.Uid, stat.Gid)
  }
  return nil
}

func (self *fsBase) openSnapshotsDirIn(subvol_dir *dir_handle.DirHandle) (*dir_handle.DirHandle, error) {
  snaps_dir, err := subvol_dir.OpenDir(SNAPSHOTS_DIR)
  if err != nil { return nil, self.fail(types.ErrIOError, "open_snapshots", self.snapshotsPath(), err) }
  if err := self.checkOwner(snaps_dir); err != nil {
    snaps_dir.Close()
    return nil, err
  }
  return snaps_dir, nil
}

// Returns `<subvolume>/.snapshots` after checking its owner.
func (self *fsBase) openSnapshotsDir() (*dir_handle.DirHandle, error) {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return nil, err }
  defer subvol_dir.Close()
  return self.openSnapshotsDirIn(subvol_dir)
}

// Returns `<infos dir>/<num>`.
func (self *fsBase) openInfoDir(infos_dir *dir_handle.DirHandle, num uint) (*dir_handle.DirHandle, error) {
  info_dir, err := infos_dir.OpenDir(numStr(num))
  if err != nil { return nil, self.fail(types.ErrIOError, "open_info", infos_dir.Path(), err) }
  return info_dir, nil
}

// Layout shared by btrfs and lvm: `<subvolume>/.snapshots/<num>/snapshot`.
func (self *fsBase) nestedSnapshotDir(num uint) string {
  return fpmod.Join(self.snapshotsPath(), numStr(num), SNAPSHOT_NAME)
}

// For the layouts where the infos dir is `.snapshots` itself.
func (self *fsBase) openNestedInfoDir(num uint) (*dir_handle.DirHandle, error) {
  infos_dir, err := self.openSnapshotsDir()
  if err != nil { return nil, err }
  defer infos_dir.Close()
  return self.openInfoDir(infos_dir, num)
}

func (self *fsBase) openNestedSnapshotDir(num uint) (*dir_handle.DirHandle, error) {
  info_dir, err := self.openNestedInfoDir(num)
  if err != nil { return nil, err }
  defer info_dir.Close()
  snap_dir, err := info_dir.OpenDir(SNAPSHOT_NAME)
  if err != nil { return nil, self.fail(types.ErrIOError, "open_snapshot", self.nestedSnapshotDir(num), err) }
  return snap_dir, nil
}

// Returns true if the directory was created, an existing one is fine.
func (self *fsBase) mkdirIfMissing(
    dir *dir_handle.DirHandle, name string, mode uint32, kind error) (bool, error) {
  err := dir.Mkdir(name, mode)
  if err == nil { return true, nil }
  if isErrno(err, unix.EEXIST) { return false, nil }
  return false, self.fail(kind, "mkdir", fpmod.Join(dir.Path(), name), err)
}

// Scans the mount table for `target`, the rootfs pseudo entry never matches.
func isMountedAt(mntutil types.MountUtil, target string) (*types.MountEntry, error) {
  mnts, err := mntutil.ListMounts()
  if err != nil { return nil, err }
  for _,mnt := range mnts {
    if mnt.FsType == types.ROOTFS_TYPE { continue }
    if mnt.MountedPath == target { return mnt, nil }
  }
  return nil, nil
}

func isErrno(err error, errno unix.Errno) bool { return errors.Is(err, errno) }
