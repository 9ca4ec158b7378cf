package types

import (
  "errors"
  "fmt"
  "os/exec"
  "strings"

  "golang.org/x/sys/unix"
)

// Error kinds, every public backend operation fails with exactly one of them.
// Dispatch with `errors.Is(err, types.ErrXXX)`.
var ErrInvalidConfig = errors.New("invalid_config")
var ErrProgramNotInstalled = errors.New("program_not_installed")
var ErrCreateConfigFailed = errors.New("create_config_failed")
var ErrDeleteConfigFailed = errors.New("delete_config_failed")
var ErrCreateSnapshotFailed = errors.New("create_snapshot_failed")
var ErrDeleteSnapshotFailed = errors.New("delete_snapshot_failed")
var ErrMountSnapshotFailed = errors.New("mount_snapshot_failed")
var ErrUmountSnapshotFailed = errors.New("umount_snapshot_failed")
var ErrIsSnapshotMountedFailed = errors.New("is_snapshot_mounted_failed")
var ErrIOError = errors.New("io_error")
var ErrLvmActivation = errors.New("lvm_snapshot_activation_failed")
var ErrLvmDeactivation = errors.New("lvm_snapshot_deactivation_failed")

// Carries the context of a failed operation.
// `Errno` is 0 when the failure did not come from a syscall.
// `Tool` is only set when an external program failed.
type FsError struct {
  Kind  error
  Op    string
  Path  string
  Tool  string
  Errno unix.Errno
  Err   error
}

func NewFsError(kind error, op string, path string, err error) *FsError {
  fs_err := &FsError{ Kind:kind, Op:op, Path:path, Err:err, }
  var errno unix.Errno
  if errors.As(err, &errno) { fs_err.Errno = errno }
  return fs_err
}

func NewToolError(kind error, op string, path string, args []string, err error) *FsError {
  fs_err := NewFsError(kind, op, path, err)
  if len(args) > 0 { fs_err.Tool = strings.Join(args, " ") }
  return fs_err
}

func (self *FsError) Error() string {
  var b strings.Builder
  fmt.Fprintf(&b, "%v: %s", self.Kind, self.Op)
  if len(self.Path) > 0 { fmt.Fprintf(&b, " '%s'", self.Path) }
  if len(self.Tool) > 0 { fmt.Fprintf(&b, " [%s]", self.Tool) }
  if self.Errno != 0 { fmt.Fprintf(&b, " errno:%d (%s)", int(self.Errno), self.Errno.Error()) }
  if self.Err != nil && self.Errno == 0 { fmt.Fprintf(&b, ": %v", self.Err) }
  return b.String()
}

func (self *FsError) Is(target error) bool { return target == self.Kind }
func (self *FsError) Unwrap() error { return self.Err }

// Returns the exit code of a failed external program or -1 if `err` did not come from one.
func ExitCode(err error) int {
  var exit_err *exec.ExitError
  if errors.As(err, &exit_err) { return exit_err.ExitCode() }
  var coder interface { ExitCode() int }
  if errors.As(err, &coder) { return coder.ExitCode() }
  return -1
}
