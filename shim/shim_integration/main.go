package main

import (
  "flag"
  "fmt"
  "time"

  "subvol_snap/dir_handle"
  "subvol_snap/shim"
  "subvol_snap/types"
  "subvol_snap/util"

  "github.com/function61/gokit/logex"
)

var subvol_flag string
var debug_flag bool

func init() {
  flag.StringVar(&subvol_flag, "subvol", "", "the fullpath to a btrfs subvolume where test subvolumes can be created")
  flag.BoolVar(&debug_flag, "debug", false, "log debug lines")
}

func GetNewSubvolName(prefix string) string {
  return fmt.Sprintf("%s.%d", prefix, time.Now().UnixNano())
}

func TestMountUtil_ListMounts(mntutil types.MountUtil) {
  mnts, err := mntutil.ListMounts()
  if err != nil { util.Fatalf("integration failed = %v", err) }
  found_subvol := false
  for _,mnt := range mnts {
    util.Debugf("mnt = %s %s %v", mnt.Device.Name, mnt.MountedPath, mnt.Options)
    if mnt.MountedPath == "/" { found_subvol = true }
  }
  if !found_subvol { util.Fatalf("root not found in %d mounts", len(mnts)) }
  util.Infof("len(mnts) = %d", len(mnts))
}

func TestSysUtil_AllFuncs(sysutil types.SysUtil) {
  if !sysutil.IsExecutable("/bin/sh") { util.Fatalf("/bin/sh should be executable") }
  if sysutil.IsExecutable("/etc/passwd") { util.Fatalf("/etc/passwd should not be executable") }
  output, err := sysutil.CombinedOutput([]string{ "/bin/echo", "integration", })
  if err != nil { util.Fatalf("integration failed = %v", err) }
  util.EqualsOrDie("echo output", string(output), "integration\n")
  output, err = sysutil.Output([]string{ "/bin/sh", "-c", "echo integration; echo noise 1>&2", })
  if err != nil { util.Fatalf("integration failed = %v", err) }
  util.EqualsOrDie("stdout only", string(output), "integration\n")
  _, err = sysutil.ReadAsciiFile("/proc/sys/kernel", "ostype", false)
  if err != nil { util.Fatalf("integration failed = %v", err) }
}

func TestBtrfsUtil_AllFuncs(btrfsutil types.Btrfsutil) {
  parent, err := dir_handle.OpenDir(subvol_flag)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  defer parent.Close()

  subvol_name := GetNewSubvolName("subvol")
  snap_name := GetNewSubvolName("snap")
  err = btrfsutil.CreateSubvolume(parent.Fd(), subvol_name)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  subvol, err := parent.OpenDir(subvol_name)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  defer subvol.Close()

  err = btrfsutil.CreateSnapshot(subvol.Fd(), parent.Fd(), snap_name, true)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  stat, err := parent.Stat(snap_name)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  util.EqualsOrDie("snapshot ino", uint64(stat.Ino), uint64(256))

  err = btrfsutil.DeleteSubvolume(parent.Fd(), snap_name)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  err = btrfsutil.DeleteSubvolume(parent.Fd(), subvol_name)
  if err != nil { util.Fatalf("integration failed = %v", err) }
  util.Infof("created and deleted '%s' and '%s'", subvol_name, snap_name)
}

func main() {
  util.Infof("shim_integration run")
  flag.Parse()
  util.SetLogger(logex.StandardLogger(), debug_flag)

  TestMountUtil_ListMounts(shim.NewMountUtil())
  TestSysUtil_AllFuncs(shim.NewSysUtil())
  if len(subvol_flag) > 0 {
    TestBtrfsUtil_AllFuncs(shim.NewBtrfsutil())
  } else {
    util.Infof("no --subvol, skipping btrfs ioctls")
  }
  util.Infof("ALL DONE")
}
