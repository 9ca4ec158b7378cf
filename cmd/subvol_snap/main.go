package main

import (
  "fmt"
  "io"
  "os"
  "strconv"

  "subvol_snap/factory"
  "subvol_snap/types"
  "subvol_snap/util"

  "github.com/function61/gokit/dynversion"
  "github.com/function61/gokit/fileexists"
  "github.com/function61/gokit/osutil"
  "github.com/spf13/cobra"
)

var config_flag string
var debug_flag bool

func loadFactory() (*factory.Factory, io.Closer, error) {
  exists, err := fileexists.Exists(config_flag)
  if err != nil { return nil, nil, err }
  if !exists { return nil, nil, fmt.Errorf("%w: '%s' not found", types.ErrInvalidConfig, config_flag) }
  conf, err := util.LoadConfig(config_flag)
  if err != nil { return nil, nil, err }
  if debug_flag { conf.Debug = true }

  logger, closer, err := util.NewFileLogger(conf)
  if err != nil { return nil, nil, err }
  defer util.CloseIfProblemo(closer, &err)
  util.SetLogger(logger, conf.Debug)
  fact, err := factory.NewFactory(conf, logger)
  if err != nil { return nil, nil, err }
  return fact, closer, nil
}

func parseNum(arg string) (uint, error) {
  num, err := strconv.ParseUint(arg, 10, 0)
  if err != nil { return 0, fmt.Errorf("bad snapshot number '%s': %w", arg, err) }
  return uint(num), nil
}

type fsOp = func(fs types.Filesystem, num uint) error

// `args[0]` is the subvolume name, `args[1]` the snapshot number if the command takes one.
func runOnFs(args []string, op fsOp) error {
  var num uint
  if len(args) > 1 {
    var err error
    if num, err = parseNum(args[1]); err != nil { return err }
  }
  fact, closer, err := loadFactory()
  if err != nil { return err }
  defer closer.Close()
  fs, err := fact.BuildFilesystem(args[0])
  if err != nil { return err }
  return op(fs, num)
}

func fsCommand(use string, short string, with_num bool, op fsOp) *cobra.Command {
  args := cobra.ExactArgs(1)
  if with_num { args = cobra.ExactArgs(2) }
  return &cobra.Command{
    Use:   use,
    Short: short,
    Args:  args,
    Run: func(cmd *cobra.Command, args []string) {
      osutil.ExitIfError(runOnFs(args, op))
    },
  }
}

func lvmOp(op func(fs types.LvmFilesystem, snap_lv string) error) fsOp {
  return func(fs types.Filesystem, num uint) error {
    lvm_fs, ok := fs.(types.LvmFilesystem)
    if !ok { return fmt.Errorf("%w: '%s' is %s not lvm", types.ErrInvalidConfig, fs.Subvolume(), fs.FsType()) }
    return op(lvm_fs, lvm_fs.SnapshotLvName(num))
  }
}

func lvmEntrypoint() *cobra.Command {
  lvm := &cobra.Command{
    Use:   "lvm",
    Short: "Activation of lvm snapshot volumes",
  }
  lvm.AddCommand(fsCommand("activate [subvol] [num]", "Activates the snapshot volume", true,
    lvmOp(func(fs types.LvmFilesystem, snap_lv string) error {
      return fs.ActivateSnapshot(fs.VgName(), snap_lv)
    })))
  lvm.AddCommand(fsCommand("deactivate [subvol] [num]", "Deactivates the snapshot volume", true,
    lvmOp(func(fs types.LvmFilesystem, snap_lv string) error {
      return fs.DeactivateSnapshot(fs.VgName(), snap_lv)
    })))
  lvm.AddCommand(fsCommand("is-inactive [subvol] [num]", "Prints whether the snapshot volume is inactive", true,
    lvmOp(func(fs types.LvmFilesystem, snap_lv string) error {
      inactive, err := fs.DetectInactiveSnapshot(fs.VgName(), snap_lv)
      if err != nil { return err }
      fmt.Println(inactive)
      return nil
    })))
  return lvm
}

func listEntrypoint() *cobra.Command {
  return &cobra.Command{
    Use:   "list",
    Short: "Lists the configured subvolumes",
    Args:  cobra.NoArgs,
    Run: func(cmd *cobra.Command, args []string) {
      osutil.ExitIfError(func() error {
        fact, closer, err := loadFactory()
        if err != nil { return err }
        defer closer.Close()
        all, err := fact.BuildAll()
        if err != nil { return err }
        for _,fs := range all { fmt.Printf("%s\t%s\n", fs.FsType(), fs.Subvolume()) }
        return nil
      }())
    },
  }
}

func main() {
  rootCmd := &cobra.Command{
    Use:     os.Args[0],
    Short:   "Snapshots of btrfs, ext4 and lvm volumes",
    Version: dynversion.Version,
    CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
  }
  rootCmd.PersistentFlags().StringVar(&config_flag, "config", util.DEF_CONFIG_PATH, "path to the json config")
  rootCmd.PersistentFlags().BoolVar(&debug_flag, "debug", false, "log debug lines")

  rootCmd.AddCommand(listEntrypoint())
  rootCmd.AddCommand(fsCommand("create-config [subvol]", "Creates the snapshots directory", false,
    func(fs types.Filesystem, _ uint) error { return fs.CreateConfig() }))
  rootCmd.AddCommand(fsCommand("delete-config [subvol]", "Removes the empty snapshots directory", false,
    func(fs types.Filesystem, _ uint) error { return fs.DeleteConfig() }))
  rootCmd.AddCommand(fsCommand("create [subvol] [num]", "Takes snapshot `num`", true,
    func(fs types.Filesystem, num uint) error { return fs.CreateSnapshot(num) }))
  rootCmd.AddCommand(fsCommand("delete [subvol] [num]", "Deletes snapshot `num`", true,
    func(fs types.Filesystem, num uint) error { return fs.DeleteSnapshot(num) }))
  rootCmd.AddCommand(fsCommand("mount [subvol] [num]", "Mounts snapshot `num` read only", true,
    func(fs types.Filesystem, num uint) error { return fs.MountSnapshot(num) }))
  rootCmd.AddCommand(fsCommand("umount [subvol] [num]", "Unmounts snapshot `num`", true,
    func(fs types.Filesystem, num uint) error { return fs.UmountSnapshot(num) }))
  rootCmd.AddCommand(fsCommand("is-mounted [subvol] [num]", "Prints whether snapshot `num` is mounted", true,
    func(fs types.Filesystem, num uint) error {
      mounted, err := fs.IsSnapshotMounted(num)
      if err != nil { return err }
      fmt.Println(mounted)
      return nil
    }))
  rootCmd.AddCommand(fsCommand("check [subvol] [num]", "Prints whether snapshot `num` exists", true,
    func(fs types.Filesystem, num uint) error {
      fmt.Println(fs.CheckSnapshot(num))
      return nil
    }))
  rootCmd.AddCommand(fsCommand("snapshot-dir [subvol] [num]", "Prints where snapshot `num` is visible", true,
    func(fs types.Filesystem, num uint) error {
      fmt.Println(fs.SnapshotDir(num))
      return nil
    }))
  rootCmd.AddCommand(lvmEntrypoint())

  osutil.ExitIfError(rootCmd.Execute())
}
