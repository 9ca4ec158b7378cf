package filesystem

import (
  "errors"
  "fmt"
  fpmod "path/filepath"
  "testing"

  "subvol_snap/types"
  "subvol_snap/types/mocks"
  "subvol_snap/util"

  "golang.org/x/sys/unix"
)

// In memory state of the lvm tools, keyed by `<vg>/<lv>`.
type fakeLvm struct {
  vg     string
  lv     string
  pool   string
  device string
  active map[string]bool
  // When not 0 `lvchange --activate y` fails with this code.
  activate_exit   int
  deactivate_exit int
}

func newFakeLvm(vg string, lv string, pool string) *fakeLvm {
  device := fmt.Sprintf("%s/%s-%s", DEV_MAPPER, dmEscape(vg), dmEscape(lv))
  return &fakeLvm{
    vg: vg, lv: lv, pool: pool, device: device,
    active: map[string]bool{ vgLv(vg, lv):true, },
  }
}

func (self *fakeLvm) lvAttr(vg_lv string) string {
  state := "-"
  if self.active[vg_lv] { state = "a" }
  if len(self.pool) > 0 { return "Vwi-" + state + "-tz--" }
  return "swi-" + state + "-s---"
}

func lvmNotFound(vg_lv string) ([]byte, error) {
  return []byte(fmt.Sprintf("Failed to find logical volume \"%s\"", vg_lv)), &toolErr{5}
}

func (self *fakeLvm) handle(args []string) ([]byte, error) {
  last := args[len(args)-1]
  switch fpmod.Base(args[0]) {
    case "lvs":
      if last == self.device {
        return []byte(fmt.Sprintf("  %s,%s,%s\n", self.vg, self.lv, self.pool)), nil
      }
      if _,found := self.active[last]; !found { return lvmNotFound(last) }
      switch args[len(args)-2] {
        case "lv_attr": return []byte("  " + self.lvAttr(last) + "\n"), nil
        case "lv_name": return []byte("  " + fpmod.Base(last) + "\n"), nil
      }
      return []byte("bad lvs args"), &toolErr{LVM_EINVALID_CMD_LINE}
    case "lvcreate":
      name := fpmod.Join(self.vg, args[5])
      if _,found := self.active[name]; found {
        return []byte("already exists"), &toolErr{5}
      }
      self.active[name] = true
    case "lvchange":
      if _,found := self.active[last]; !found { return lvmNotFound(last) }
      activate := args[2] == "y"
      if activate && self.activate_exit != 0 { return []byte("nope"), &toolErr{self.activate_exit} }
      if !activate && self.deactivate_exit != 0 { return []byte("in use"), &toolErr{self.deactivate_exit} }
      self.active[last] = activate
    case "lvremove":
      if _,found := self.active[last]; !found { return lvmNotFound(last) }
      delete(self.active, last)
  }
  return nil, nil
}

// Sets up `subvol` as the mount point of a lvm volume.
func newLvmSysUtilWithState(
    mntutil *mocks.MountUtil, subvol string, mount_type string, lvm *fakeLvm) *mocks.SysUtil {
  mnt := mntutil.AddMount(lvm.device, subvol, mount_type)
  uuid_path := fmt.Sprintf("%s/%d:%d/dm/uuid", SYS_DEV_BLOCK, mnt.Device.Major, mnt.Device.Minor)
  return &mocks.SysUtil{
    Handler: lvm.handle,
    Files: map[string]string{ uuid_path: LVM_DM_UUID_PREFIX + "SOMEUUID\n", },
  }
}

func newLvmSysUtil(
    mntutil *mocks.MountUtil, subvol string, mount_type string,
    vg string, lv string, pool string) *mocks.SysUtil {
  return newLvmSysUtilWithState(mntutil, subvol, mount_type, newFakeLvm(vg, lv, pool))
}

func buildTestLvm(t *testing.T, pool string) (*LvmFs, *fakeLvm, *mocks.SysUtil, *mocks.MountUtil) {
  t.Helper()
  mntutil := &mocks.MountUtil{}
  lvm := newFakeLvm("vg0", "data", pool)
  base := buildTestBase(t, types.FS_LVM, "lvm(ext4)", nil)
  sysutil := newLvmSysUtilWithState(mntutil, base.subvolume, "ext4", lvm)
  base.sysutil = sysutil
  fs, err := NewLvm(base, mntutil, "ext4")
  if err != nil { t.Fatalf("NewLvm: %v", err) }
  if err := fs.CreateConfig(); err != nil { t.Fatalf("CreateConfig: %v", err) }
  sysutil.Calls = nil
  return fs, lvm, sysutil, mntutil
}

func TestFilterMountOptions(t *testing.T) {
  options := map[string]string{
    "rw": "", "relatime": "", "nosuid": "", "errors": "remount-ro", "data": "ordered", "seclabel": "",
  }
  util.EqualsOrFailTest(t, "ext4", filterMountOptions(options, "ext4"),
                        []string{ "data=ordered", "errors=remount-ro", })
  util.EqualsOrFailTest(t, "xfs", filterMountOptions(map[string]string{ "ro":"", "logbsize":"32k", }, "xfs"),
                        []string{ "logbsize=32k", "nouuid", })
  util.EqualsOrFailTest(t, "xfs nouuid", filterMountOptions(map[string]string{ "nouuid":"", }, "xfs"),
                        []string{ "nouuid", })
  util.EqualsOrFailTest(t, "empty", filterMountOptions(nil, "ext4"), []string{})
}

func TestDmEscape(t *testing.T) {
  util.EqualsOrFailTest(t, "no dash", dmEscape("data_3"), "data_3")
  util.EqualsOrFailTest(t, "dashes", dmEscape("my-vg-1"), "my--vg--1")
}

func TestLvm_Names(t *testing.T) {
  fs, _, _, _ := buildTestLvm(t, "")
  util.EqualsOrFailTest(t, "vg", fs.VgName(), "vg0")
  util.EqualsOrFailTest(t, "lv", fs.LvName(), "data")
  util.EqualsOrFailTest(t, "snap lv", fs.SnapshotLvName(3), "data_3")
  util.EqualsOrFailTest(t, "device", fs.snapshotDevice(3), "/dev/mapper/vg0-data_3")
  util.EqualsOrFailTest(t, "dir", fs.SnapshotDir(3),
                        fpmod.Join(fs.Subvolume(), ".snapshots/3/snapshot"))
  fs.vg_name = "my-vg"
  fs.lv_name = "root-fs"
  util.EqualsOrFailTest(t, "escaped device", fs.snapshotDevice(1), "/dev/mapper/my--vg-root--fs_1")
}

func TestLvm_OldStyleEndToEnd(t *testing.T) {
  fs, lvm, sysutil, mntutil := buildTestLvm(t, "")
  if fs.IsThin() { t.Fatalf("should not be thin") }
  snap_lv := "vg0/data_3"
  mkInfoDir(t, fs, 3)

  if err := fs.CreateSnapshot(3); err != nil { t.Fatalf("CreateSnapshot: %v", err) }
  expect_create := []string{
    util.DEF_LVCREATE_BIN, "--permission", "r", "--snapshot", "--name", "data_3",
    "--extents", util.DEF_LVM_COW_SIZE, "vg0/data",
  }
  util.EqualsOrFailTest(t, "lvcreate", sysutil.CallsTo("lvcreate"), [][]string{ expect_create, })
  if lvm.active[snap_lv] { t.Errorf("old-style snapshot should be inactive after create") }
  if !util.IsDir(fs.SnapshotDir(3)) { t.Errorf("mount point not created") }
  if !fs.CheckSnapshot(3) { t.Errorf("CheckSnapshot should be true") }
  inactive, err := fs.DetectInactiveSnapshot("vg0", "data_3")
  if err != nil || !inactive { t.Errorf("DetectInactiveSnapshot: %v %v", inactive, err) }

  if err := fs.MountSnapshot(3); err != nil { t.Fatalf("MountSnapshot: %v", err) }
  if !lvm.active[snap_lv] { t.Errorf("mount should activate") }
  util.EqualsOrFailTest(t, "flags", mntutil.LastFlags, LVM_MOUNT_FLAGS)
  if !mntutil.IsMounted(fs.SnapshotDir(3)) { t.Errorf("not mounted") }
  mounted, err := fs.IsSnapshotMounted(3)
  if err != nil || !mounted { t.Errorf("IsSnapshotMounted: %v %v", mounted, err) }
  if !fs.CheckSnapshot(3) { t.Errorf("CheckSnapshot should be true while mounted") }

  handle, err := fs.OpenSnapshotDir(3)
  if err != nil { t.Fatalf("OpenSnapshotDir: %v", err) }
  util.EqualsOrFailTest(t, "handle", handle.Path(), fs.SnapshotDir(3))
  handle.Close()

  sysutil.Calls = nil
  if err := fs.MountSnapshot(3); err != nil { t.Fatalf("MountSnapshot again: %v", err) }
  if len(sysutil.Calls) > 0 { t.Errorf("second mount is a no-op: %v", sysutil.Calls) }

  if err := fs.UmountSnapshot(3); err != nil { t.Fatalf("UmountSnapshot: %v", err) }
  if lvm.active[snap_lv] { t.Errorf("umount should deactivate") }
  mounted, err = fs.IsSnapshotMounted(3)
  if err != nil || mounted { t.Errorf("IsSnapshotMounted: %v %v", mounted, err) }
  if !fs.CheckSnapshot(3) { t.Errorf("CheckSnapshot does not depend on activation") }
  if err := fs.UmountSnapshot(3); err != nil { t.Fatalf("UmountSnapshot again: %v", err) }

  if err := fs.DeleteSnapshot(3); err != nil { t.Fatalf("DeleteSnapshot: %v", err) }
  if _,found := lvm.active[snap_lv]; found { t.Errorf("volume not removed") }
  if fs.CheckSnapshot(3) { t.Errorf("CheckSnapshot should be false after delete") }
  if util.IsDir(fs.SnapshotDir(3)) { t.Errorf("mount point not removed") }
  err = fs.DeleteSnapshot(3)
  util.ErrKindOrFailTest(t, "delete twice", err, types.ErrDeleteSnapshotFailed)
}

func TestLvm_ThinEndToEnd(t *testing.T) {
  fs, lvm, sysutil, mntutil := buildTestLvm(t, "pool0")
  if !fs.IsThin() { t.Fatalf("should be thin") }
  mkInfoDir(t, fs, 1)

  if err := fs.CreateSnapshot(1); err != nil { t.Fatalf("CreateSnapshot: %v", err) }
  expect_create := []string{
    util.DEF_LVCREATE_BIN, "--permission", "r", "--snapshot", "--name", "data_1", "vg0/data",
  }
  util.EqualsOrFailTest(t, "lvcreate", sysutil.CallsTo("lvcreate"), [][]string{ expect_create, })
  if !lvm.active["vg0/data_1"] { t.Errorf("thin snapshot stays active") }

  if err := fs.MountSnapshot(1); err != nil { t.Fatalf("MountSnapshot: %v", err) }
  if err := fs.UmountSnapshot(1); err != nil { t.Fatalf("UmountSnapshot: %v", err) }
  if len(sysutil.CallsTo("lvchange")) > 0 { t.Errorf("no activation changes: %v", sysutil.CallsTo("lvchange")) }
  if !lvm.active["vg0/data_1"] { t.Errorf("thin snapshot stays active") }
  if mntutil.IsMounted(fs.SnapshotDir(1)) { t.Errorf("still mounted") }
}

func TestLvm_MountOptionsFromBaseVolume(t *testing.T) {
  mntutil := &mocks.MountUtil{}
  lvm := newFakeLvm("vg0", "data", "")
  base := buildTestBase(t, types.FS_LVM, "lvm(xfs)", nil)
  base.sysutil = newLvmSysUtilWithState(mntutil, base.subvolume, "xfs", lvm)
  mntutil.Mounts[0].Options = map[string]string{ "rw":"", "noatime":"", "logbufs":"8", }
  fs, err := NewLvm(base, mntutil, "xfs")
  if err != nil { t.Fatalf("NewLvm: %v", err) }
  util.EqualsOrFailTest(t, "options", fs.MountOptions(), []string{ "logbufs=8", "nouuid", })

  if err := fs.CreateConfig(); err != nil { t.Fatalf("CreateConfig: %v", err) }
  mkInfoDir(t, fs, 2)
  if err := fs.CreateSnapshot(2); err != nil { t.Fatalf("CreateSnapshot: %v", err) }
  if err := fs.MountSnapshot(2); err != nil { t.Fatalf("MountSnapshot: %v", err) }
  util.EqualsOrFailTest(t, "mount options", mntutil.LastOptions, []string{ "logbufs=8", "nouuid", })
  mnt, err := isMountedAt(mntutil, fs.SnapshotDir(2))
  if err != nil || mnt == nil { t.Fatalf("not mounted: %v", err) }
  util.EqualsOrFailTest(t, "device", mnt.Device.Name, "/dev/mapper/vg0-data_2")
  util.EqualsOrFailTest(t, "fstype", mnt.FsType, "xfs")
}

func TestLvm_ActivationFailure(t *testing.T) {
  fs, lvm, _, mntutil := buildTestLvm(t, "")
  mkInfoDir(t, fs, 3)
  if err := fs.CreateSnapshot(3); err != nil { t.Fatalf("CreateSnapshot: %v", err) }

  lvm.activate_exit = LVM_EINVALID_CMD_LINE
  err := fs.MountSnapshot(3)
  util.ErrKindOrFailTest(t, "MountSnapshot", err, types.ErrLvmActivation)
  util.EqualsOrFailTest(t, "exit code", types.ExitCode(err), LVM_EINVALID_CMD_LINE)
  if mntutil.IsMounted(fs.SnapshotDir(3)) { t.Errorf("mounted after failed activation") }

  err = fs.ActivateSnapshot("vg0", "data_3")
  util.ErrKindOrFailTest(t, "ActivateSnapshot", err, types.ErrLvmActivation)
  err = fs.ActivateSnapshot("vg0", "nothere")
  util.ErrKindOrFailTest(t, "ActivateSnapshot missing", err, types.ErrLvmActivation)
  util.EqualsOrFailTest(t, "exit code", types.ExitCode(err), 5)
}

func TestLvm_DeactivationFailure(t *testing.T) {
  fs, lvm, _, _ := buildTestLvm(t, "")
  mkInfoDir(t, fs, 4)
  lvm.deactivate_exit = 5
  err := fs.CreateSnapshot(4)
  util.ErrKindOrFailTest(t, "CreateSnapshot", err, types.ErrLvmDeactivation)
  if !fs.CheckSnapshot(4) { t.Errorf("the volume itself was created") }

  lvm.deactivate_exit = 0
  if err := fs.MountSnapshot(4); err != nil { t.Fatalf("MountSnapshot: %v", err) }
  lvm.deactivate_exit = 5
  err = fs.UmountSnapshot(4)
  util.ErrKindOrFailTest(t, "UmountSnapshot", err, types.ErrLvmDeactivation)
  mounted, err := fs.IsSnapshotMounted(4)
  if err != nil || mounted { t.Errorf("the umount itself succeeded: %v %v", mounted, err) }
}

func TestLvm_DetectInactiveSnapshot(t *testing.T) {
  fs, lvm, sysutil, _ := buildTestLvm(t, "")
  lvm.active["vg0/data_7"] = false
  inactive, err := fs.DetectInactiveSnapshot("vg0", "data_7")
  if err != nil || !inactive { t.Errorf("inactive: %v %v", inactive, err) }
  lvm.active["vg0/data_7"] = true
  inactive, err = fs.DetectInactiveSnapshot("vg0", "data_7")
  if err != nil || inactive { t.Errorf("active: %v %v", inactive, err) }

  _, err = fs.DetectInactiveSnapshot("vg0", "nothere")
  util.ErrKindOrFailTest(t, "missing volume", err, types.ErrIOError)

  sysutil.Handler = func(args []string) ([]byte, error) { return []byte("  sw\n"), nil }
  _, err = fs.DetectInactiveSnapshot("vg0", "data_7")
  util.ErrKindOrFailTest(t, "short attr", err, types.ErrIOError)
}

func TestLvm_CheckSnapshot(t *testing.T) {
  fs, lvm, sysutil, _ := buildTestLvm(t, "")
  if fs.CheckSnapshot(9) { t.Errorf("nothing there yet") }
  lvm.active["vg0/data_9"] = false
  if !fs.CheckSnapshot(9) { t.Errorf("inactive volumes exist too") }
  sysutil.Handler = func(args []string) ([]byte, error) { return []byte("  other\n"), nil }
  if fs.CheckSnapshot(9) { t.Errorf("name mismatch") }
}

// lvm warns on stderr about lvmetad or leaked descriptors, none of that is part of the answer.
func TestLvm_WarningsOnStderr(t *testing.T) {
  mntutil := &mocks.MountUtil{}
  lvm := newFakeLvm("vg0", "data", "")
  base := buildTestBase(t, types.FS_LVM, "lvm(ext4)", nil)
  sysutil := newLvmSysUtilWithState(mntutil, base.subvolume, "ext4", lvm)
  sysutil.Stderr = "  WARNING: Failed to connect to lvmetad. Falling back to device scanning.\n"
  base.sysutil = sysutil
  fs, err := NewLvm(base, mntutil, "ext4")
  if err != nil { t.Fatalf("NewLvm: %v", err) }
  util.EqualsOrFailTest(t, "vg", fs.VgName(), "vg0")
  util.EqualsOrFailTest(t, "lv", fs.LvName(), "data")
  if fs.IsThin() { t.Errorf("should not be thin") }
  if err := fs.CreateConfig(); err != nil { t.Fatalf("CreateConfig: %v", err) }
  mkInfoDir(t, fs, 3)

  if err := fs.CreateSnapshot(3); err != nil { t.Fatalf("CreateSnapshot: %v", err) }
  if !fs.CheckSnapshot(3) { t.Errorf("CheckSnapshot should be true") }
  inactive, err := fs.DetectInactiveSnapshot("vg0", "data_3")
  if err != nil || !inactive { t.Errorf("DetectInactiveSnapshot: %v %v", inactive, err) }
  if err := fs.MountSnapshot(3); err != nil { t.Fatalf("MountSnapshot: %v", err) }
  if !lvm.active["vg0/data_3"] { t.Errorf("mount should activate") }
  if err := fs.UmountSnapshot(3); err != nil { t.Fatalf("UmountSnapshot: %v", err) }
  if err := fs.DeleteSnapshot(3); err != nil { t.Fatalf("DeleteSnapshot: %v", err) }
  if fs.CheckSnapshot(3) { t.Errorf("CheckSnapshot should be false after delete") }
}

func TestLvm_CreateSnapshotFailures(t *testing.T) {
  fs, lvm, _, _ := buildTestLvm(t, "")
  err := fs.CreateSnapshot(5)
  util.ErrKindOrFailTest(t, "no info dir", err, types.ErrIOError)

  mkInfoDir(t, fs, 5)
  lvm.active["vg0/data_5"] = true
  err = fs.CreateSnapshot(5)
  util.ErrKindOrFailTest(t, "already exists", err, types.ErrCreateSnapshotFailed)
  util.EqualsOrFailTest(t, "tool", fsErrorOrDie(t, err).Tool[:len(util.DEF_LVCREATE_BIN)], util.DEF_LVCREATE_BIN)
}

func TestLvm_MountFailures(t *testing.T) {
  fs, _, _, mntutil := buildTestLvm(t, "pool0")
  mkInfoDir(t, fs, 2)
  if err := fs.CreateSnapshot(2); err != nil { t.Fatalf("CreateSnapshot: %v", err) }

  mntutil.ForMethodErr(mntutil.Mount, unix.EINVAL)
  err := fs.MountSnapshot(2)
  util.ErrKindOrFailTest(t, "Mount", err, types.ErrMountSnapshotFailed)
  util.EqualsOrFailTest(t, "errno", fsErrorOrDie(t, err).Errno, unix.EINVAL)

  mntutil.ErrInject = nil
  if err := fs.MountSnapshot(2); err != nil { t.Fatalf("MountSnapshot: %v", err) }
  mntutil.ForMethodErr(mntutil.UMount, unix.EBUSY)
  err = fs.UmountSnapshot(2)
  util.ErrKindOrFailTest(t, "UMount", err, types.ErrUmountSnapshotFailed)
  util.EqualsOrFailTest(t, "errno", fsErrorOrDie(t, err).Errno, unix.EBUSY)

  mntutil.ForMethodErr(mntutil.ListMounts, errors.New("no_mtab"))
  _, err = fs.IsSnapshotMounted(2)
  util.ErrKindOrFailTest(t, "ListMounts", err, types.ErrIsSnapshotMountedFailed)
}

func TestNewLvm_Errors(t *testing.T) {
  build := func(setup func(*mocks.MountUtil, *mocks.SysUtil, string), mount_type string) error {
    mntutil := &mocks.MountUtil{}
    base := buildTestBase(t, types.FS_LVM, "lvm(" + mount_type + ")", nil)
    sysutil := newLvmSysUtil(mntutil, base.subvolume, "ext4", "vg0", "data", "")
    base.sysutil = sysutil
    setup(mntutil, sysutil, base.subvolume)
    _, err := NewLvm(base, mntutil, mount_type)
    return err
  }
  noop := func(*mocks.MountUtil, *mocks.SysUtil, string) {}

  util.ErrKindOrFailTest(t, "wrong mount type", build(noop, "xfs"), types.ErrInvalidConfig)
  err := build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) { m.Mounts = nil }, "ext4")
  util.ErrKindOrFailTest(t, "not mounted", err, types.ErrInvalidConfig)
  err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) {
    m.ForMethodErr(m.ListMounts, errors.New("no_mtab"))
  }, "ext4")
  util.ErrKindOrFailTest(t, "mount table", err, types.ErrIOError)
  err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) {
    m.Mounts[0].FsType = types.ROOTFS_TYPE
  }, "ext4")
  util.ErrKindOrFailTest(t, "rootfs", err, types.ErrInvalidConfig)
  err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) { s.Files = nil }, "ext4")
  util.ErrKindOrFailTest(t, "not device mapper", err, types.ErrInvalidConfig)
  err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) {
    for k := range s.Files { s.Files[k] = "CRYPT-LUKS2-abcdef" }
  }, "ext4")
  util.ErrKindOrFailTest(t, "not lvm", err, types.ErrInvalidConfig)
  err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) {
    s.Handler = func(args []string) ([]byte, error) { return []byte("  vg0\n"), nil }
  }, "ext4")
  util.ErrKindOrFailTest(t, "bad lvs output", err, types.ErrInvalidConfig)
  err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) {
    s.ForAllErrMsg("lvm is broken")
  }, "ext4")
  util.ErrKindOrFailTest(t, "lvs failure", err, types.ErrInvalidConfig)

  for _,tool := range []string{
      util.DEF_LVCREATE_BIN, util.DEF_LVREMOVE_BIN, util.DEF_LVCHANGE_BIN, util.DEF_LVS_BIN, } {
    err = build(func(m *mocks.MountUtil, s *mocks.SysUtil, subvol string) {
      s.NotExecutable = map[string]bool{ tool:true, }
    }, "ext4")
    util.ErrKindOrFailTest(t, tool, err, types.ErrProgramNotInstalled)
  }
}
