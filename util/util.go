package util

import (
  "fmt"
  "os"
  "strings"
  "unicode"
)

func IsOnlyAsciiString(str string, allow_ctrl bool) error {
  for _,codept := range str {
    if codept > unicode.MaxASCII {
      return fmt.Errorf("non ascii char in '%s'", str)
    }
    if !allow_ctrl && unicode.IsControl(codept) {
      return fmt.Errorf("control char in '%s'", str)
    }
  }
  return nil
}

func IsDir(path string) bool {
  f_info, err := os.Stat(path)
  if err != nil { return false }
  return f_info.IsDir()
}

// Output of external programs ends up in error messages, keep it on one line.
func TrimOutput(output []byte) string {
  const max_len = 512
  str := strings.Join(strings.Fields(string(output)), " ")
  if len(str) > max_len { return str[:max_len] + "..." }
  return str
}

func CloseIfProblemo(obj interface{ Close() error }, err *error) {
  if *err == nil { return }
  if close_err := obj.Close(); close_err != nil {
    Warnf("close after error: %v", close_err)
  }
}
