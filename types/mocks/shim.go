package mocks

import (
  "fmt"
  fpmod "path/filepath"
  "strings"

  "subvol_snap/types"

  "golang.org/x/sys/unix"
)

// Returns the output and error of a single external program call.
type CmdHandler = func(args []string) ([]byte, error)

type SysUtil struct {
  ErrBase
  Calls         [][]string
  // nil means every call succeeds with no output.
  Handler       CmdHandler
  NotExecutable map[string]bool
  // Keyed by full path.
  Files         map[string]string
  // Every program writes this to stderr before its regular output.
  Stderr        string
}

func (self *SysUtil) call(method interface{}, args []string) ([]byte, error) {
  if len(args) < 1 { return nil, fmt.Errorf("%s bad args", MethodName(method)) }
  self.Calls = append(self.Calls, append([]string{}, args...))
  if err := self.injected(method); err != nil { return nil, err }
  if self.Handler == nil { return nil, nil }
  return self.Handler(args)
}
func (self *SysUtil) CombinedOutput(args []string) ([]byte, error) {
  output, err := self.call(self.CombinedOutput, args)
  if len(self.Stderr) > 0 { output = append([]byte(self.Stderr), output...) }
  return output, err
}
func (self *SysUtil) Output(args []string) ([]byte, error) {
  return self.call(self.Output, args)
}
func (self *SysUtil) IsExecutable(path string) bool {
  return len(path) > 0 && !self.NotExecutable[path]
}
func (self *SysUtil) ReadAsciiFile(dir string, name string, allow_ctrl bool) (string, error) {
  if err := self.injected(self.ReadAsciiFile); err != nil { return "", err }
  content, found := self.Files[fpmod.Join(dir, name)]
  if !found { return "", unix.ENOENT }
  return strings.TrimRight(content, "\n"), nil
}
// Only the calls whose program path ends with `prog`.
func (self *SysUtil) CallsTo(prog string) [][]string {
  var calls [][]string
  for _,c := range self.Calls {
    if fpmod.Base(c[0]) == prog { calls = append(calls, c) }
  }
  return calls
}


type MountUtil struct {
  ErrBase
  Mounts []*types.MountEntry
  // The arguments of the last `Mount` call.
  LastFlags   uintptr
  LastOptions []string
}

func (self *MountUtil) ListMounts() ([]*types.MountEntry, error) {
  if err := self.injected(self.ListMounts); err != nil { return nil, err }
  return append([]*types.MountEntry{}, self.Mounts...), nil
}
func (self *MountUtil) Mount(
    device string, target string, fstype string, flags uintptr, options []string) error {
  if device == "" || target == "" || fstype == "" { return fmt.Errorf("Mount bad args") }
  if err := self.injected(self.Mount); err != nil { return err }
  for _,m := range self.Mounts {
    if m.MountedPath == target { return unix.EBUSY }
  }
  self.LastFlags = flags
  self.LastOptions = options
  self.AddMount(device, target, fstype)
  return nil
}
func (self *MountUtil) UMount(target string) error {
  if err := self.injected(self.UMount); err != nil { return err }
  for idx,m := range self.Mounts {
    if m.MountedPath != target { continue }
    self.Mounts = append(self.Mounts[:idx], self.Mounts[idx+1:]...)
    return nil
  }
  return unix.EINVAL
}
func (self *MountUtil) AddMount(device string, target string, fstype string) *types.MountEntry {
  mnt := &types.MountEntry{
    Device: &types.Device{ Name:device, Major:253, Minor:len(self.Mounts), },
    MountedPath: target,
    FsType: fstype,
    Options: map[string]string{},
  }
  self.Mounts = append(self.Mounts, mnt)
  return mnt
}
func (self *MountUtil) IsMounted(target string) bool {
  for _,m := range self.Mounts {
    if m.MountedPath == target { return true }
  }
  return false
}


// Subvolumes are plain directories, the mock remembers their inodes
// so that tests can tell them apart from directories created by other means.
type Btrfsutil struct {
  ErrBase
  SubvolInos map[uint64]bool
  ReadOnly   map[uint64]bool
}

func (self *Btrfsutil) mkSubvol(parent_fd int, name string, read_only bool) error {
  if err := unix.Mkdirat(parent_fd, name, 0755); err != nil { return err }
  var stat unix.Stat_t
  if err := unix.Fstatat(parent_fd, name, &stat, unix.AT_SYMLINK_NOFOLLOW); err != nil { return err }
  if self.SubvolInos == nil { self.SubvolInos = make(map[uint64]bool) }
  if self.ReadOnly == nil { self.ReadOnly = make(map[uint64]bool) }
  self.SubvolInos[uint64(stat.Ino)] = true
  self.ReadOnly[uint64(stat.Ino)] = read_only
  return nil
}
func (self *Btrfsutil) CreateSubvolume(parent_fd int, name string) error {
  if err := self.injected(self.CreateSubvolume); err != nil { return err }
  return self.mkSubvol(parent_fd, name, false)
}
func (self *Btrfsutil) CreateSnapshot(src_fd int, parent_fd int, name string, read_only bool) error {
  if src_fd < 0 { return unix.EBADF }
  if err := self.injected(self.CreateSnapshot); err != nil { return err }
  return self.mkSubvol(parent_fd, name, read_only)
}
func (self *Btrfsutil) DeleteSubvolume(parent_fd int, name string) error {
  if err := self.injected(self.DeleteSubvolume); err != nil { return err }
  var stat unix.Stat_t
  if err := unix.Fstatat(parent_fd, name, &stat, unix.AT_SYMLINK_NOFOLLOW); err != nil { return err }
  if !self.SubvolInos[uint64(stat.Ino)] { return unix.EINVAL }
  if err := unix.Unlinkat(parent_fd, name, unix.AT_REMOVEDIR); err != nil { return err }
  delete(self.SubvolInos, uint64(stat.Ino))
  delete(self.ReadOnly, uint64(stat.Ino))
  return nil
}
func (self *Btrfsutil) IsSubvolRoot(stat *unix.Stat_t) bool {
  return self.SubvolInos[uint64(stat.Ino)]
}
