package filesystem

import (
  "fmt"
  "sort"
  "strings"

  "subvol_snap/dir_handle"
  "subvol_snap/types"

  "golang.org/x/sys/unix"
)

const (
  SYS_DEV_BLOCK = "/sys/dev/block"
  DEV_MAPPER = "/dev/mapper"
  LVM_DM_UUID_PREFIX = "LVM-"
  // lvm2 tools/errors.h
  LVM_EINVALID_CMD_LINE = 3
  // Position of the activation state in `lv_attr`.
  LV_ATTR_STATE_IDX = 4
)

const LVM_MOUNT_FLAGS = uintptr(unix.MS_RDONLY | unix.MS_NOSUID | unix.MS_NODEV |
                                unix.MS_NOEXEC | unix.MS_NOATIME | unix.MS_NODIRATIME)

// These are mount(2) flags, the kernel rejects them as filesystem data.
var generic_mount_options = map[string]bool{
  "rw": true, "ro": true,
  "suid": true, "nosuid": true,
  "dev": true, "nodev": true,
  "exec": true, "noexec": true,
  "sync": true, "async": true, "dirsync": true,
  "atime": true, "noatime": true, "diratime": true, "nodiratime": true,
  "relatime": true, "norelatime": true, "strictatime": true,
  "lazytime": true, "nolazytime": true,
  "mand": true, "nomand": true,
  "silent": true, "loud": true,
  "iversion": true, "noiversion": true,
  "seclabel": true, "defaults": true,
}

// Keeps the filesystem specific options of the base volume mount, sorted.
func filterMountOptions(options map[string]string, mount_type string) []string {
  filtered := make([]string, 0, len(options) + 1)
  for key,val := range options {
    if generic_mount_options[key] { continue }
    if len(val) > 0 { filtered = append(filtered, key + "=" + val) } else { filtered = append(filtered, key) }
  }
  // xfs refuses to mount two filesystems with the same uuid, snapshots carry the uuid of the origin.
  if _,found := options["nouuid"]; mount_type == "xfs" && !found {
    filtered = append(filtered, "nouuid")
  }
  sort.Strings(filtered)
  return filtered
}

// Device mapper doubles the dashes inside volume group and volume names.
func dmEscape(name string) string { return strings.ReplaceAll(name, "-", "--") }

// Snapshots are logical volumes `<vg>/<lv>_<num>` mounted at `.snapshots/<num>/snapshot`.
// Thin snapshots stay active, old-style ones are only active while mounted.
type LvmFs struct {
  fsBase
  mntutil       types.MountUtil
  mount_type    string
  vg_name       string
  lv_name       string
  thin          bool
  mount_options []string
}

func NewLvm(base fsBase, mntutil types.MountUtil, mount_type string) (*LvmFs, error) {
  fs := &LvmFs{
    fsBase: base,
    mntutil: mntutil,
    mount_type: mount_type,
  }
  tools := base.conf.Tools
  err := fs.requireTools(tools.Lvcreate, tools.Lvremove, tools.Lvchange, tools.Lvs)
  if err != nil { return nil, err }

  mnt, err := isMountedAt(mntutil, fs.subvolume)
  if err != nil { return nil, fs.fail(types.ErrIOError, "list_mounts", fs.subvolume, err) }
  if mnt == nil {
    return nil, fs.failf(types.ErrInvalidConfig, "new_lvm", fs.subvolume, "not a mount point")
  }
  if mnt.FsType != mount_type {
    return nil, fs.failf(types.ErrInvalidConfig, "new_lvm", fs.subvolume,
                         "mounted as '%s' not '%s'", mnt.FsType, mount_type)
  }
  if err = fs.detectLvmVolume(mnt); err != nil { return nil, err }
  fs.mount_options = filterMountOptions(mnt.Options, mount_type)
  fs.log.Debug.Printf("'%s' is %s/%s thin:%v options:%v",
                      fs.subvolume, fs.vg_name, fs.lv_name, fs.thin, fs.mount_options)
  return fs, nil
}

// Fills the volume group, logical volume and thin-ness of the base volume.
func (self *LvmFs) detectLvmVolume(mnt *types.MountEntry) error {
  dev := mnt.Device
  sys_dir := fmt.Sprintf("%s/%d:%d/dm", SYS_DEV_BLOCK, dev.Major, dev.Minor)
  dm_uuid, err := self.sysutil.ReadAsciiFile(sys_dir, "uuid", false)
  if err != nil {
    return self.fail(types.ErrInvalidConfig, "dm_uuid", dev.Name, err)
  }
  if !strings.HasPrefix(dm_uuid, LVM_DM_UUID_PREFIX) {
    return self.failf(types.ErrInvalidConfig, "dm_uuid", dev.Name, "not a lvm volume: '%s'", dm_uuid)
  }

  output, err := self.query(types.ErrInvalidConfig, "lvs", dev.Name,
                            self.conf.Tools.Lvs, "--noheadings", "--separator", ",",
                            "-o", "vg_name,lv_name,pool_lv", dev.Name)
  if err != nil { return err }
  fields := strings.Split(strings.TrimSpace(output), ",")
  if len(fields) != 3 || len(fields[0]) < 1 || len(fields[1]) < 1 {
    return self.failf(types.ErrInvalidConfig, "lvs", dev.Name, "unexpected output: '%s'", output)
  }
  self.vg_name = strings.TrimSpace(fields[0])
  self.lv_name = strings.TrimSpace(fields[1])
  self.thin = len(strings.TrimSpace(fields[2])) > 0
  return nil
}

func (self *LvmFs) VgName() string { return self.vg_name }
func (self *LvmFs) LvName() string { return self.lv_name }
func (self *LvmFs) IsThin() bool { return self.thin }
func (self *LvmFs) MountOptions() []string { return self.mount_options }

func (self *LvmFs) SnapshotLvName(num uint) string {
  return self.lv_name + "_" + numStr(num)
}

func (self *LvmFs) snapshotDevice(num uint) string {
  return DEV_MAPPER + "/" + dmEscape(self.vg_name) + "-" + dmEscape(self.SnapshotLvName(num))
}

func vgLv(vg_name string, lv_name string) string { return vg_name + "/" + lv_name }

func (self *LvmFs) CreateConfig() error {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()
  created, err := self.mkdirIfMissing(subvol_dir, SNAPSHOTS_DIR, 0750, types.ErrCreateConfigFailed)
  if err != nil { return err }
  if created { self.log.Info.Printf("created '%s'", self.snapshotsPath()) }
  return nil
}

func (self *LvmFs) DeleteConfig() error {
  subvol_dir, err := self.openSubvolumeDir()
  if err != nil { return err }
  defer subvol_dir.Close()
  if err = subvol_dir.Rmdir(SNAPSHOTS_DIR); err != nil {
    return self.fail(types.ErrDeleteConfigFailed, "rmdir", self.snapshotsPath(), err)
  }
  self.log.Info.Printf("deleted '%s'", self.snapshotsPath())
  return nil
}

func (self *LvmFs) SnapshotDir(num uint) string { return self.nestedSnapshotDir(num) }

func (self *LvmFs) OpenInfosDir() (*dir_handle.DirHandle, error) {
  return self.openSnapshotsDir()
}

func (self *LvmFs) OpenSnapshotDir(num uint) (*dir_handle.DirHandle, error) {
  return self.openNestedSnapshotDir(num)
}

// The mount point is created up front so that mounting only needs the volume.
func (self *LvmFs) CreateSnapshot(num uint) error {
  info_dir, err := self.openNestedInfoDir(num)
  if err != nil { return err }
  defer info_dir.Close()
  _, err = self.mkdirIfMissing(info_dir, SNAPSHOT_NAME, 0755, types.ErrCreateSnapshotFailed)
  if err != nil { return err }

  snap_lv := self.SnapshotLvName(num)
  args := []string{ self.conf.Tools.Lvcreate, "--permission", "r", "--snapshot", "--name", snap_lv, }
  if !self.thin { args = append(args, "--extents", self.conf.LvmCowSize) }
  args = append(args, vgLv(self.vg_name, self.lv_name))
  if err = self.run(types.ErrCreateSnapshotFailed, "lvcreate", vgLv(self.vg_name, snap_lv), args...); err != nil {
    return err
  }
  self.log.Info.Printf("created '%s' thin:%v", vgLv(self.vg_name, snap_lv), self.thin)

  if !self.thin { return self.DeactivateSnapshot(self.vg_name, snap_lv) }
  return nil
}

func (self *LvmFs) DeleteSnapshot(num uint) error {
  snap_lv := vgLv(self.vg_name, self.SnapshotLvName(num))
  err := self.run(types.ErrDeleteSnapshotFailed, "lvremove", snap_lv,
                  self.conf.Tools.Lvremove, "--force", snap_lv)
  if err != nil { return err }
  self.log.Info.Printf("deleted '%s'", snap_lv)

  info_dir, err := self.openNestedInfoDir(num)
  if err == nil {
    err = info_dir.Rmdir(SNAPSHOT_NAME)
    info_dir.Close()
  }
  if err != nil && !isErrno(err, unix.ENOENT) {
    self.log.Error.Printf("cannot remove '%s': %v", self.SnapshotDir(num), err)
  }
  return nil
}

func (self *LvmFs) ActivateSnapshot(vg_name string, lv_name string) error {
  err := self.run(types.ErrLvmActivation, "lvchange", vgLv(vg_name, lv_name),
                  self.conf.Tools.Lvchange, "--activate", "y", "--ignoreactivationskip",
                  vgLv(vg_name, lv_name))
  if err != nil && types.ExitCode(err) == LVM_EINVALID_CMD_LINE {
    self.log.Error.Printf("lvm version does not support the activation command line")
  }
  return err
}

func (self *LvmFs) DeactivateSnapshot(vg_name string, lv_name string) error {
  return self.run(types.ErrLvmDeactivation, "lvchange", vgLv(vg_name, lv_name),
                  self.conf.Tools.Lvchange, "--activate", "n", vgLv(vg_name, lv_name))
}

func (self *LvmFs) DetectInactiveSnapshot(vg_name string, lv_name string) (bool, error) {
  output, err := self.query(types.ErrIOError, "lvs", vgLv(vg_name, lv_name),
                            self.conf.Tools.Lvs, "--noheadings", "-o", "lv_attr",
                            vgLv(vg_name, lv_name))
  if err != nil { return false, err }
  attr := strings.TrimSpace(output)
  if len(attr) <= LV_ATTR_STATE_IDX {
    return false, self.failf(types.ErrIOError, "lvs", vgLv(vg_name, lv_name), "bad lv_attr: '%s'", attr)
  }
  return attr[LV_ATTR_STATE_IDX] == '-', nil
}

func (self *LvmFs) IsSnapshotMounted(num uint) (bool, error) {
  mnt, err := isMountedAt(self.mntutil, self.SnapshotDir(num))
  if err != nil { return false, self.fail(types.ErrIsSnapshotMountedFailed, "list_mounts", self.SnapshotDir(num), err) }
  return mnt != nil, nil
}

// Old-style snapshot volumes hold the whole image, they are mounted directly without loop devices.
func (self *LvmFs) MountSnapshot(num uint) error {
  mounted, err := self.IsSnapshotMounted(num)
  if err != nil || mounted { return err }

  snap_lv := self.SnapshotLvName(num)
  inactive, err := self.DetectInactiveSnapshot(self.vg_name, snap_lv)
  if err != nil { return err }
  if inactive {
    if err = self.ActivateSnapshot(self.vg_name, snap_lv); err != nil { return err }
  }

  info_dir, err := self.openNestedInfoDir(num)
  if err != nil { return err }
  defer info_dir.Close()
  _, err = self.mkdirIfMissing(info_dir, SNAPSHOT_NAME, 0755, types.ErrMountSnapshotFailed)
  if err != nil { return err }

  err = self.mntutil.Mount(self.snapshotDevice(num), self.SnapshotDir(num), self.mount_type,
                           LVM_MOUNT_FLAGS, self.mount_options)
  if err != nil { return self.fail(types.ErrMountSnapshotFailed, "mount", self.SnapshotDir(num), err) }
  self.log.Info.Printf("mounted '%s' at '%s'", self.snapshotDevice(num), self.SnapshotDir(num))
  return nil
}

func (self *LvmFs) UmountSnapshot(num uint) error {
  mounted, err := self.IsSnapshotMounted(num)
  if err != nil || !mounted { return err }

  err = self.mntutil.UMount(self.SnapshotDir(num))
  if err != nil { return self.fail(types.ErrUmountSnapshotFailed, "umount", self.SnapshotDir(num), err) }
  self.log.Info.Printf("unmounted '%s'", self.SnapshotDir(num))

  if !self.thin { return self.DeactivateSnapshot(self.vg_name, self.SnapshotLvName(num)) }
  return nil
}

// Asks lvm, activation state does not matter.
func (self *LvmFs) CheckSnapshot(num uint) bool {
  snap_lv := vgLv(self.vg_name, self.SnapshotLvName(num))
  output, err := self.sysutil.Output([]string{
    self.conf.Tools.Lvs, "--noheadings", "-o", "lv_name", snap_lv, })
  if err != nil {
    self.log.Debug.Printf("check '%s': %v", snap_lv, err)
    return false
  }
  return strings.TrimSpace(string(output)) == self.SnapshotLvName(num)
}
