package dir_handle

import (
  "fmt"
  "os"
  fpmod "path/filepath"
  "strings"

  "golang.org/x/sys/unix"
)

const CUR_DIR = "."

// An open directory.
// Only the descriptor is owned, the path is kept for diagnostics and is never resolved again.
// Nested directories must be opened with `OpenDir` on the parent handle so that a symlink swapped
// in between a check and its use cannot redirect us.
type DirHandle struct {
  file *os.File
  path string
}

// Opens `path` as the root of a handle chain.
// `path` must be absolute, symlinks in it are followed like any normal open.
func OpenDir(path string) (*DirHandle, error) {
  if !fpmod.IsAbs(path) {
    return nil, &os.PathError{ Op:"open", Path:path, Err:unix.EINVAL, }
  }
  fd, err := unix.Open(path, unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC, 0)
  if err != nil { return nil, &os.PathError{ Op:"open", Path:path, Err:err, } }
  return newDirHandle(fd, path), nil
}

func newDirHandle(fd int, path string) *DirHandle {
  // os.File carries a finalizer, a handle nobody closed still releases its descriptor.
  return &DirHandle{ file:os.NewFile(uintptr(fd), path), path:path, }
}

// Only single path components are accepted, "." and ".." included are rejected.
func validName(name string) error {
  if len(name) < 1 || name == CUR_DIR || name == ".." || strings.ContainsRune(name, '/') {
    return unix.EINVAL
  }
  return nil
}

func (self *DirHandle) Fd() int {
  return int(self.file.Fd())
}

func (self *DirHandle) Path() string { return self.path }

func (self *DirHandle) childPath(name string) string {
  return fpmod.Join(self.path, name)
}

// Opens the child directory `name` relative to this handle without following symlinks.
func (self *DirHandle) OpenDir(name string) (*DirHandle, error) {
  if err := validName(name); err != nil {
    return nil, &os.PathError{ Op:"openat", Path:self.childPath(name), Err:err, }
  }
  flags := unix.O_RDONLY | unix.O_DIRECTORY | unix.O_NOFOLLOW | unix.O_CLOEXEC
  fd, err := unix.Openat(self.Fd(), name, flags, 0)
  if err != nil {
    return nil, &os.PathError{ Op:"openat", Path:self.childPath(name), Err:err, }
  }
  return newDirHandle(fd, self.childPath(name)), nil
}

// Stats `name` relative to this handle, symlinks are not followed.
// Use CUR_DIR to stat the directory itself.
func (self *DirHandle) Stat(name string) (*unix.Stat_t, error) {
  if name != CUR_DIR {
    if err := validName(name); err != nil {
      return nil, &os.PathError{ Op:"fstatat", Path:self.childPath(name), Err:err, }
    }
  }
  var stat unix.Stat_t
  err := unix.Fstatat(self.Fd(), name, &stat, unix.AT_SYMLINK_NOFOLLOW)
  if err != nil {
    return nil, &os.PathError{ Op:"fstatat", Path:self.childPath(name), Err:err, }
  }
  return &stat, nil
}

// The raw errno is kept as the `Err` of the returned `os.PathError`,
// callers check `errors.Is(err, unix.EEXIST)`.
func (self *DirHandle) Mkdir(name string, mode uint32) error {
  if err := validName(name); err != nil {
    return &os.PathError{ Op:"mkdirat", Path:self.childPath(name), Err:err, }
  }
  err := unix.Mkdirat(self.Fd(), name, mode)
  if err != nil { return &os.PathError{ Op:"mkdirat", Path:self.childPath(name), Err:err, } }
  return nil
}

func (self *DirHandle) Rmdir(name string) error {
  if err := validName(name); err != nil {
    return &os.PathError{ Op:"unlinkat", Path:self.childPath(name), Err:err, }
  }
  err := unix.Unlinkat(self.Fd(), name, unix.AT_REMOVEDIR)
  if err != nil { return &os.PathError{ Op:"unlinkat", Path:self.childPath(name), Err:err, } }
  return nil
}

// Creates the regular file `name` if missing, like touch an existing file is left untouched.
// A symlink at `name` is an error.
func (self *DirHandle) CreateFile(name string, mode uint32) error {
  if err := validName(name); err != nil {
    return &os.PathError{ Op:"openat", Path:self.childPath(name), Err:err, }
  }
  flags := unix.O_WRONLY | unix.O_CREAT | unix.O_NOFOLLOW | unix.O_CLOEXEC
  fd, err := unix.Openat(self.Fd(), name, flags, mode)
  if err != nil { return &os.PathError{ Op:"openat", Path:self.childPath(name), Err:err, } }
  return unix.Close(fd)
}

func (self *DirHandle) Unlink(name string) error {
  if err := validName(name); err != nil {
    return &os.PathError{ Op:"unlinkat", Path:self.childPath(name), Err:err, }
  }
  err := unix.Unlinkat(self.Fd(), name, 0)
  if err != nil { return &os.PathError{ Op:"unlinkat", Path:self.childPath(name), Err:err, } }
  return nil
}

// Lists the names in the directory, "." and ".." excluded.
// The listing goes through a duplicate of the descriptor so that this handle offset is untouched.
func (self *DirHandle) Entries() ([]string, error) {
  dup_fd, err := unix.Openat(self.Fd(), CUR_DIR,
                             unix.O_RDONLY | unix.O_DIRECTORY | unix.O_CLOEXEC, 0)
  if err != nil { return nil, &os.PathError{ Op:"openat", Path:self.path, Err:err, } }
  dir := os.NewFile(uintptr(dup_fd), self.path)
  defer dir.Close()
  names, err := dir.Readdirnames(-1)
  if err != nil { return nil, fmt.Errorf("readdir '%s': %w", self.path, err) }
  return names, nil
}

// Safe to call several times, only the first call releases the descriptor.
func (self *DirHandle) Close() error {
  if self == nil || self.file == nil { return nil }
  err := self.file.Close()
  self.file = nil
  return err
}
