package util

import (
  "encoding/json"
  "errors"
  "fmt"
  "strings"
  "testing"
)

func asJsonStrings(val interface{}, expected interface{}) (string, string) {
  var val_str, expected_str []byte
  var val_err, expected_err error
  val_str, val_err = json.MarshalIndent(val, "", "  ")
  expected_str, expected_err = json.MarshalIndent(expected, "", "  ")
  if val_err != nil || expected_err != nil {
    Fatalf("cannot marshal to json string: %v%v, %v/%v", val, val_err, expected, expected_err)
  }
  return string(val_str), string(expected_str)
}

func truncate(str string) string {
  const max_len = 1024
  if len(str) > max_len { return str[:max_len] }
  return str
}

func fmtAssertMsg(err_msg string, got string, expected string) string {
  return fmt.Sprintf("%s:\ngot: %s\n !=\nexp: %s\n",
                     err_msg, truncate(got), truncate(expected))
}

func EqualsOrDie(err_msg string, val interface{}, expected interface{}) {
  val_str, expected_str := asJsonStrings(val, expected)
  if strings.Compare(val_str, expected_str) != 0 {
    Fatalf(fmtAssertMsg(err_msg, val_str, expected_str))
  }
}

func EqualsOrDieTest(t *testing.T, err_msg string, val interface{}, expected interface{}) {
  t.Helper()
  val_str, expected_str := asJsonStrings(val, expected)
  comp_res := strings.Compare(val_str, expected_str)
  if comp_res != 0 {
    t.Fatal(fmtAssertMsg(err_msg, val_str, expected_str))
  }
}

// Returns 0 if equal
func EqualsOrFailTest(t *testing.T, err_msg string, val interface{}, expected interface{}) int {
  t.Helper()
  val_str, expected_str := asJsonStrings(val, expected)
  comp_res := strings.Compare(val_str, expected_str)
  if comp_res != 0 {
    t.Error(fmtAssertMsg(err_msg, val_str, expected_str))
    return comp_res
  }
  return 0
}

// Fails unless `errors.Is(err, kind)`, a nil kind expects success.
func ErrKindOrFailTest(t *testing.T, err_msg string, err error, kind error) {
  t.Helper()
  if kind == nil {
    if err != nil { t.Errorf("%s: unexpected error: %v", err_msg, err) }
    return
  }
  if !errors.Is(err, kind) {
    t.Errorf("%s: expected '%v', got: %v", err_msg, kind, err)
  }
}
