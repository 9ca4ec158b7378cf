package types

type Factory interface {
  // Builds the backend for the subvolume called `subvol_name` in the configuration.
  BuildFilesystem(subvol_name string) (Filesystem, error)
}
