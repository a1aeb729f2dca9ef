package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

// migrateCmd opens the registry, which upgrades it, and reports the result.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Upgrade the volume database and report what changed",
	Long: `Open the volume database, upgrading its schema if needed.

Every volumectl command upgrades the database on open; migrate only makes
the result visible. Stray container directories in the application root
are moved into the volumes directory on every run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		report := reg.Report()
		w := cmd.OutOrStdout()

		switch {
		case report.Created:
			fmt.Fprintf(w, "Created volume database at schema version %d\n", report.ToVersion)
		case report.Upgraded():
			fmt.Fprintf(w, "Upgraded volume database from version %d to %d\n", report.FromVersion, report.ToVersion)
		default:
			fmt.Fprintf(w, "Volume database is up to date (version %d)\n", report.ToVersion)
		}

		if report.RepairedRows > 0 {
			fmt.Fprintf(w, "Repaired %d misaligned rows\n", report.RepairedRows)
		}
		for _, name := range report.MovedHidden {
			fmt.Fprintf(w, "Moved hidden volume %s into the volumes directory\n", name)
		}
		for _, name := range report.RelocatedStrays {
			fmt.Fprintf(w, "Relocated unregistered volume %s into the volumes directory\n", name)
		}
		for _, name := range report.DuplicateNames {
			fmt.Fprintf(w, "Warning: several volumes are named %s\n", name)
		}
		return nil
	},
}
