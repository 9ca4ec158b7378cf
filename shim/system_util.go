package shim

import (
  "errors"
  "fmt"
  "os"
  "os/exec"
  fpmod "path/filepath"
  "strings"

  "subvol_snap/util"

  "golang.org/x/sys/unix"
)

type SysUtilImpl struct {}

func NewSysUtil() *SysUtilImpl { return &SysUtilImpl{} }

// No shell is involved, each argument reaches the program verbatim.
func (self *SysUtilImpl) CombinedOutput(args []string) ([]byte, error) {
  if len(args) < 1 { return nil, fmt.Errorf("CombinedOutput: no program") }
  util.Debugf("%s", strings.Join(args, " "))
  //nolint:gosec // program paths come from the config
  cmd := exec.Command(args[0], args[1:]...)
  output, err := cmd.CombinedOutput()
  if err != nil {
    util.Debugf("%s failed: %v, output: %s", args[0], err, util.TrimOutput(output))
  }
  return output, err
}

// The stderr of a failed program is kept in `*exec.ExitError` and logged here.
func (self *SysUtilImpl) Output(args []string) ([]byte, error) {
  if len(args) < 1 { return nil, fmt.Errorf("Output: no program") }
  util.Debugf("%s", strings.Join(args, " "))
  //nolint:gosec // program paths come from the config
  cmd := exec.Command(args[0], args[1:]...)
  output, err := cmd.Output()
  var exit_err *exec.ExitError
  if errors.As(err, &exit_err) {
    util.Debugf("%s failed: %v, stderr: %s", args[0], err, util.TrimOutput(exit_err.Stderr))
  } else if err != nil {
    util.Debugf("%s failed: %v", args[0], err)
  }
  return output, err
}

func (self *SysUtilImpl) IsExecutable(path string) bool {
  f_info, err := os.Stat(path)
  if err != nil || !f_info.Mode().IsRegular() { return false }
  return unix.Access(path, unix.X_OK) == nil
}

func (self *SysUtilImpl) ReadAsciiFile(
    dir string, name string, allow_ctrl bool) (string, error) {
  fpath := fpmod.Join(dir, name)
  bytes, err := os.ReadFile(fpath)
  if err != nil { return "", err }
  str := strings.TrimRight(string(bytes), "\n")
  err = util.IsOnlyAsciiString(str, allow_ctrl)
  if err != nil { err = fmt.Errorf("file:'%s', err:%v", fpath, err) }
  return str, err
}
