package shim

import (
  "fmt"
  "strconv"
  "strings"

  "subvol_snap/types"
  "subvol_snap/util"

  "github.com/prometheus/procfs"
  "golang.org/x/sys/unix"
)

type MountUtilImpl struct {
  // Only for unittests, nil means the mount table of the running process.
  source func() ([]*procfs.MountInfo, error)
}

func NewMountUtil() *MountUtilImpl {
  return &MountUtilImpl{ source:procfs.GetMounts, }
}

func majminFromString(in string) (int,int,error) {
  sep_idx := strings.Index(in, ":")
  if sep_idx < 1 { return 0,0, fmt.Errorf("bad format for device/dev file, expectin maj:min") }
  maj, err := strconv.Atoi(in[:sep_idx])
  if err != nil { return 0,0, err }
  min, err := strconv.Atoi(in[sep_idx+1:])
  if err != nil { return 0,0, err }
  return maj, min, nil
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }

// The kernel escapes spaces, tabs, newlines and backslashes as `\NNN` octal sequences.
// Nothing else is escaped, any other backslash or quote is kept as is.
func unescapeMountField(field string) string {
  if !strings.ContainsRune(field, '\\') { return field }
  var out strings.Builder
  out.Grow(len(field))
  for i := 0; i < len(field); i++ {
    if field[i] == '\\' && i+3 < len(field) &&
       isOctal(field[i+1]) && isOctal(field[i+2]) && isOctal(field[i+3]) {
      val := (field[i+1]-'0')<<6 | (field[i+2]-'0')<<3 | (field[i+3]-'0')
      out.WriteByte(val)
      i += 3
      continue
    }
    out.WriteByte(field[i])
  }
  return out.String()
}

func mergeMountOptions(info *procfs.MountInfo) map[string]string {
  options := make(map[string]string, len(info.Options) + len(info.SuperOptions))
  for _,opts := range []map[string]string{ info.Options, info.SuperOptions, } {
    for k,v := range opts { options[unescapeMountField(k)] = unescapeMountField(v) }
  }
  return options
}

func mountEntryFromInfo(info *procfs.MountInfo) (*types.MountEntry, error) {
  var err error
  mnt := &types.MountEntry{ Device:&types.Device{}, }
  mnt.Device.Major, mnt.Device.Minor, err = majminFromString(info.MajorMinorVer)
  if err != nil { return nil, err }
  mnt.Device.Name = unescapeMountField(info.Source)
  mnt.MountedPath = unescapeMountField(info.MountPoint)
  mnt.FsType = unescapeMountField(info.FSType)
  mnt.Options = mergeMountOptions(info)
  return mnt, nil
}

func (self *MountUtilImpl) ListMounts() ([]*types.MountEntry, error) {
  source := self.source
  if source == nil { source = procfs.GetMounts }
  infos, err := source()
  if err != nil { return nil, err }
  mnts := make([]*types.MountEntry, 0, len(infos))
  for _,info := range infos {
    mnt, err := mountEntryFromInfo(info)
    if err != nil { return nil, fmt.Errorf("mount %d '%s': %w", info.MountID, info.MountPoint, err) }
    mnts = append(mnts, mnt)
  }
  return mnts, nil
}

func (self *MountUtilImpl) Mount(
    device string, target string, fstype string, flags uintptr, options []string) error {
  data := strings.Join(options, ",")
  util.Debugf("mount(%s, %s, %s, %#x, '%s')", device, target, fstype, flags, data)
  err := unix.Mount(device, target, fstype, flags, data)
  if err != nil { return fmt.Errorf("mount '%s' on '%s': %w", device, target, err) }
  return nil
}

func (self *MountUtilImpl) UMount(target string) error {
  util.Debugf("umount(%s)", target)
  err := unix.Unmount(target, 0)
  if err != nil { return fmt.Errorf("umount '%s': %w", target, err) }
  return nil
}
