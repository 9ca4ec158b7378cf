package shim

import (
  "os"
  "strings"
  "unsafe"

  "subvol_snap/util"

  "golang.org/x/sys/unix"
)

// Values from linux/btrfs.h
const (
  BTRFS_IOCTL_MAGIC = 0x94
  BTRFS_PATH_NAME_MAX = 4087
  BTRFS_SUBVOL_NAME_MAX = 4039
  BTRFS_SUBVOL_RDONLY = uint64(1) << 1
)

// struct btrfs_ioctl_vol_args
type btrfsVolArgs struct {
  fd   int64
  name [BTRFS_PATH_NAME_MAX + 1]byte
}

// struct btrfs_ioctl_vol_args_v2
// The kernel declares the 4 padding words inside an union with the qgroup inherit pointer,
// we never use the latter.
type btrfsVolArgsV2 struct {
  fd      int64
  transid uint64
  flags   uint64
  unused  [4]uint64
  name    [BTRFS_SUBVOL_NAME_MAX + 1]byte
}

const ioc_write = uintptr(1)

// _IOW(BTRFS_IOCTL_MAGIC, nr, size)
func btrfsIow(nr uintptr, size uintptr) uintptr {
  return (ioc_write << 30) | (size << 16) | (BTRFS_IOCTL_MAGIC << 8) | nr
}

var BTRFS_IOC_SUBVOL_CREATE = btrfsIow(14, unsafe.Sizeof(btrfsVolArgs{}))
var BTRFS_IOC_SNAP_DESTROY = btrfsIow(15, unsafe.Sizeof(btrfsVolArgs{}))
var BTRFS_IOC_SNAP_CREATE_V2 = btrfsIow(23, unsafe.Sizeof(btrfsVolArgsV2{}))

// The name buffer must keep room for the terminating null.
func checkIoctlName(name string, max_len int) error {
  if len(name) < 1 || strings.ContainsRune(name, 0) || strings.ContainsRune(name, '/') {
    return unix.EINVAL
  }
  if len(name) > max_len { return unix.ENAMETOOLONG }
  return nil
}

func encodeVolArgs(fd int, name string) (*btrfsVolArgs, error) {
  if err := checkIoctlName(name, BTRFS_PATH_NAME_MAX); err != nil { return nil, err }
  args := &btrfsVolArgs{ fd:int64(fd), }
  copy(args.name[:], name)
  return args, nil
}

func encodeVolArgsV2(src_fd int, name string, read_only bool) (*btrfsVolArgsV2, error) {
  if err := checkIoctlName(name, BTRFS_SUBVOL_NAME_MAX); err != nil { return nil, err }
  args := &btrfsVolArgsV2{ fd:int64(src_fd), }
  if read_only { args.flags |= BTRFS_SUBVOL_RDONLY }
  copy(args.name[:], name)
  return args, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
  _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
  if errno != 0 { return errno }
  return nil
}

// Talks directly to the kernel, no dependency on libbtrfsutil.
type BtrfsutilImpl struct {}

func NewBtrfsutil() *BtrfsutilImpl { return &BtrfsutilImpl{} }

func (self *BtrfsutilImpl) CreateSubvolume(parent_fd int, name string) error {
  args, err := encodeVolArgs(0, name)
  if err != nil { return os.NewSyscallError("BTRFS_IOC_SUBVOL_CREATE", err) }
  util.Debugf("BTRFS_IOC_SUBVOL_CREATE fd=%d '%s'", parent_fd, name)
  err = ioctl(parent_fd, BTRFS_IOC_SUBVOL_CREATE, unsafe.Pointer(args))
  return os.NewSyscallError("BTRFS_IOC_SUBVOL_CREATE", err)
}

func (self *BtrfsutilImpl) CreateSnapshot(
    src_fd int, parent_fd int, name string, read_only bool) error {
  args, err := encodeVolArgsV2(src_fd, name, read_only)
  if err != nil { return os.NewSyscallError("BTRFS_IOC_SNAP_CREATE_V2", err) }
  util.Debugf("BTRFS_IOC_SNAP_CREATE_V2 src=%d fd=%d '%s' ro=%v", src_fd, parent_fd, name, read_only)
  err = ioctl(parent_fd, BTRFS_IOC_SNAP_CREATE_V2, unsafe.Pointer(args))
  return os.NewSyscallError("BTRFS_IOC_SNAP_CREATE_V2", err)
}

func (self *BtrfsutilImpl) DeleteSubvolume(parent_fd int, name string) error {
  args, err := encodeVolArgs(0, name)
  if err != nil { return os.NewSyscallError("BTRFS_IOC_SNAP_DESTROY", err) }
  util.Debugf("BTRFS_IOC_SNAP_DESTROY fd=%d '%s'", parent_fd, name)
  err = ioctl(parent_fd, BTRFS_IOC_SNAP_DESTROY, unsafe.Pointer(args))
  return os.NewSyscallError("BTRFS_IOC_SNAP_DESTROY", err)
}
