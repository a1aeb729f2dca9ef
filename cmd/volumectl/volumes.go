package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/volumectl/internal/cli"
	"github.com/forest6511/volumectl/pkg/audit"
	"github.com/forest6511/volumectl/pkg/volume"
)

var (
	hiddenFlag   bool
	typeFlag     string
	moveDirsFlag bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(removeCmd)

	for _, cmd := range []*cobra.Command{showCmd, registerCmd, renameCmd, removeCmd} {
		cmd.Flags().BoolVar(&hiddenFlag, "hidden", false, "Volume lives in the private volumes directory")
	}
	registerCmd.Flags().StringVar(&typeFlag, "type", "", "Volume format (gocryptfs, cryfs); probed when omitted")
	renameCmd.Flags().BoolVar(&moveDirsFlag, "move", true, "Also rename the container directory of a hidden volume")
}

var listCmd = &cobra.Command{
	Use:   "list [PATTERN]",
	Short: "List registered volumes",
	Long: `List registered volumes, sorted by name with visible volumes first.

PATTERN may be an exact name or a glob (*, ?, [...]). A '*' does not
match the path separator.`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := reg.List()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No volumes registered")
			return nil
		}

		var pattern string
		if len(args) == 1 {
			pattern = args[0]
		}
		matched, err := cli.MatchVolumes(pattern, records)
		if err != nil {
			return err
		}
		return cli.PrintVolumes(cmd.OutOrStdout(), cli.SortVolumes(matched), reg.Root())
	},
}

var showCmd = &cobra.Command{
	Use:               "show NAME",
	Short:             "Show the metadata of a volume",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		return cli.PrintVolume(cmd.OutOrStdout(), rec, reg.Root())
	},
}

var registerCmd = &cobra.Command{
	Use:   "register NAME|PATH",
	Short: "Register an existing volume",
	Long: `Register an existing gocryptfs or CryFS volume.

Visible volumes are registered by path. With --hidden, NAME refers to a
directory inside the private volumes directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := resolveName(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		path := volume.FullPath(name, hiddenFlag, reg.Root())

		typ, err := volumeType(path)
		if err != nil {
			return err
		}

		rec := &volume.Record{
			UUID:   volume.NewUUID(),
			Name:   name,
			Hidden: hiddenFlag,
			Type:   typ,
		}
		ok, err := reg.Register(rec)
		if err != nil {
			auditResult(audit.OpVolumeRegister, name, hiddenFlag, err)
			return err
		}
		if !ok {
			return fmt.Errorf("volume %q is already registered", name)
		}
		auditResult(audit.OpVolumeRegister, name, hiddenFlag, nil)
		fmt.Fprintf(cmd.OutOrStdout(), "Registered %s volume %s\n", typ, name)
		return nil
	},
}

// volumeType resolves --type, probing the container when it is empty.
func volumeType(path string) (volume.Type, error) {
	if typeFlag != "" {
		typ, ok := volume.ParseType(typeFlag)
		if !ok {
			return volume.TypeUnknown, fmt.Errorf("unsupported volume type %q", typeFlag)
		}
		return typ, nil
	}

	typ, err := volume.FileProber{}.ProbeType(path)
	if errors.Is(err, volume.ErrNotRecognized) {
		return volume.TypeUnknown, fmt.Errorf("%s is not a gocryptfs or CryFS volume; pass --type to register it anyway", path)
	}
	return typ, err
}

var renameCmd = &cobra.Command{
	Use:               "rename OLD NEW",
	Short:             "Rename a volume",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		newName, err := resolveName(args[1], hiddenFlag)
		if err != nil {
			return err
		}
		if newName == rec.Name {
			return nil
		}

		taken, err := reg.Exists(newName, hiddenFlag)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("volume %q is already registered", newName)
		}

		if rec.Hidden && moveDirsFlag {
			src := rec.Path(reg.Root())
			dst := volume.FullPath(newName, true, reg.Root())
			if err := volume.MoveNoReplace(src, dst); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to move container: %w", err)
			}
		}

		_, err = reg.Rename(rec, newName)
		auditResult(audit.OpVolumeRename, rec.Name, rec.Hidden, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", rec.Name, newName)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Unregister a volume",
	Long: `Unregister a volume. The container directory is left on disk.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		_, err = reg.Remove(rec)
		auditResult(audit.OpVolumeRemove, rec.Name, rec.Hidden, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (container left at %s)\n", rec.Name, rec.Path(reg.Root()))
		return nil
	},
}
