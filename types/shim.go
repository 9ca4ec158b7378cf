package types

const ROOTFS_TYPE = "rootfs"

type Device struct {
  // Full path as found in the mount table, for example `/dev/mapper/vg0-data`.
  Name  string
  Major int
  Minor int
}

// One record of the live kernel mount table.
type MountEntry struct {
  Device      *Device
  MountedPath string
  FsType      string
  // Per mount and filesystem specific options merged, flags have an empty value.
  Options     map[string]string
}

// Wraps everything that needs to fork a process or peek at system files.
type SysUtil interface {
  // Runs `args` (args[0] is the program path) and waits for it to finish.
  // A non zero exit status is returned as an error, the output is always returned.
  CombinedOutput(args []string) ([]byte, error)
  // Like `CombinedOutput` but only stdout is returned, use it when the output gets parsed.
  // Whatever the program writes to stderr only reaches the log.
  Output(args []string) ([]byte, error)
  // True if `path` exists and the current process can execute it.
  IsExecutable(path string) bool
  // Reads a small text file like the ones under /sys, trailing newlines are trimmed.
  ReadAsciiFile(dir string, name string, allow_ctrl bool) (string, error)
}

type MountUtil interface {
  // Returns the current mount table of this process mount namespace.
  ListMounts() ([]*MountEntry, error)
  // Thin wrapper over mount(2), `options` are joined as the filesystem data argument.
  Mount(device string, target string, fstype string, flags uintptr, options []string) error
  // Thin wrapper over umount2(2) without flags.
  UMount(target string) error
}

// The btrfs ioctls we need, all of them relative to open directory descriptors.
type Btrfsutil interface {
  // BTRFS_IOC_SUBVOL_CREATE, creates subvolume `name` under `parent_fd`.
  CreateSubvolume(parent_fd int, name string) error
  // BTRFS_IOC_SNAP_CREATE_V2, snapshots the subvolume open as `src_fd` into `name` under `parent_fd`.
  CreateSnapshot(src_fd int, parent_fd int, name string, read_only bool) error
  // BTRFS_IOC_SNAP_DESTROY, deletes subvolume `name` under `parent_fd`.
  DeleteSubvolume(parent_fd int, name string) error
}
