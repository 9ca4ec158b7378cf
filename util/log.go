package util

import (
  "fmt"
  "io"
  "log"
  "os"
  fpmod "path/filepath"
  "runtime"

  "subvol_snap/types"

  "github.com/function61/gokit/logex"
)

const ROOT_LOG_FILE = "/var/log/subvol_snap.log"
const USER_LOG_FILE = ".subvol_snap.log"

var logl = logex.Levels(logex.StandardLogger())

// Replaces the sink of the package level helpers below.
func SetLogger(logger *log.Logger, debug bool) {
  logl = NewLeveled(logger, debug)
}

// A nil logger discards everything, debug lines are discarded unless `debug`.
func NewLeveled(logger *log.Logger, debug bool) *logex.Leveled {
  leveled := logex.Levels(logex.NonNil(logger))
  if !debug { leveled.Debug = logex.Discard }
  return leveled
}

func Fatalf(format string, v ...interface{}) {
  logl.Error.Printf("[FATAL] " + format, v...)
  buf := make([]byte, 4096)
  cnt := runtime.Stack(buf, /*all=*/false)
  logl.Error.Printf("Stack:\n%s", buf[:cnt])
  os.Exit(1)
}

func Infof(format string, v ...interface{}) {
  logl.Info.Printf(format, v...)
}

func Debugf(format string, v ...interface{}) {
  logl.Debug.Printf(format, v...)
}

func Warnf(format string, v ...interface{}) {
  logl.Error.Printf("[WARN] " + format, v...)
}

// Root writes to the system log directory, anybody else to its home.
func DefaultLogFile() string {
  if os.Geteuid() == 0 { return ROOT_LOG_FILE }
  home, err := os.UserHomeDir()
  if err != nil { home = os.TempDir() }
  return fpmod.Join(home, USER_LOG_FILE)
}

// Opens the log file in `conf` in append mode, the caller must close it.
func NewFileLogger(conf *types.Config) (*log.Logger, io.Closer, error) {
  path := conf.LogFile
  if len(path) < 1 { path = DefaultLogFile() }
  file, err := os.OpenFile(path, os.O_APPEND | os.O_CREATE | os.O_WRONLY, 0640)
  if err != nil { return nil, nil, fmt.Errorf("cannot open log '%s': %w", path, err) }
  return log.New(file, "", log.LstdFlags | log.Lmicroseconds), file, nil
}
