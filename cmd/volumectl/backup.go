package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forest6511/volumectl/internal/cli"
	"github.com/forest6511/volumectl/pkg/audit"
	"github.com/forest6511/volumectl/pkg/backup"
	"github.com/forest6511/volumectl/pkg/crypto"
	"github.com/forest6511/volumectl/pkg/registry"
)

var (
	backupOutput string
	backupStdout bool
	backupForce  bool

	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreOnConflict string
)

func init() {
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")

	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without making changes")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
	restoreCmd.Flags().StringVar(&restoreOnConflict, "on-conflict", "error", "Conflict resolution: skip, overwrite, error")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create an encrypted backup of the registry",
	Long: `Create an encrypted backup of every registered volume.

The backup holds names, types and verification hashes, never volume
contents. It is protected by a backup passphrase of its own.

Examples:
  # Backup to a file
  volumectl backup -o volumes.bkp

  # Backup to stdout (for piping)
  volumectl backup --stdout | gpg --encrypt > volumes.gpg`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if !backupStdout && backupOutput == "" {
		return fmt.Errorf("either --output or --stdout is required")
	}
	if backupStdout && backupOutput != "" {
		return fmt.Errorf("--output and --stdout are mutually exclusive")
	}
	if !backupStdout && !backupForce {
		if _, err := os.Stat(backupOutput); err == nil {
			return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
		}
	}

	passphrase, err := readPassphrase("Backup passphrase: ", true)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(passphrase)
	if len(passphrase) == 0 {
		return backup.ErrEmptyPassphrase
	}
	warnWeakPassphrase(cmd, passphrase)

	var output io.Writer = cmd.OutOrStdout()
	if !backupStdout {
		f, err := os.OpenFile(backupOutput, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	err = backup.Backup(reg, backup.BackupOptions{
		Output:        output,
		Passphrase:    passphrase,
		SchemaVersion: registry.CurrentSchemaVersion,
	})
	auditResult(audit.OpRegistryBackup, "", false, err)
	if err != nil {
		if !backupStdout {
			os.Remove(backupOutput)
		}
		return fmt.Errorf("backup failed: %w", err)
	}

	if !backupStdout {
		fmt.Fprintf(cmd.OutOrStdout(), "Backup created successfully: %s\n", backupOutput)
	}
	return nil
}

var restoreCmd = &cobra.Command{
	Use:   "restore BACKUP-FILE",
	Short: "Restore volumes from an encrypted backup",
	Long: `Restore registered volumes from an encrypted backup file.

A volume conflicts when the same name and placement is already
registered, or when its uuid belongs to another volume.

Examples:
  # Dry run (preview only)
  volumectl restore volumes.bkp --dry-run

  # Verify backup integrity without restoring
  volumectl restore volumes.bkp --verify-only

  # Restore, keep already registered volumes
  volumectl restore volumes.bkp --on-conflict=skip`,
	Args: cobra.ExactArgs(1),
	RunE: executeRestore,
}

func executeRestore(cmd *cobra.Command, args []string) error {
	mode, err := backup.ParseConflictMode(restoreOnConflict)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("backup file not found: %s", args[0])
	}
	if err != nil {
		return err
	}
	defer f.Close()

	passphrase, err := readPassphrase("Backup passphrase: ", false)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(passphrase)

	header, records, err := backup.Read(f, passphrase)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if header.SchemaVersion > registry.CurrentSchemaVersion {
		fmt.Fprintf(w, "Warning: backup was written by schema version %d, this build supports %d\n",
			header.SchemaVersion, registry.CurrentSchemaVersion)
	}
	if restoreVerifyOnly {
		fmt.Fprintf(w, "Backup verified: %d volumes, created %s\n",
			len(records), header.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	}

	result, err := backup.Restore(reg, records, backup.RestoreOptions{OnConflict: mode, DryRun: restoreDryRun})
	if !restoreDryRun {
		e := audit.Entry{Operation: audit.OpRegistryRestore, Result: audit.ResultSuccess}
		if result != nil {
			e.Context = map[string]string{
				"restored":    strconv.Itoa(result.Restored),
				"skipped":     strconv.Itoa(result.Skipped),
				"overwritten": strconv.Itoa(result.Overwritten),
			}
		}
		if err != nil {
			e.Result, e.Err = audit.ResultError, err
		}
		recordAudit(e)
	}
	if err != nil {
		return err
	}

	verb := "Restored"
	if result.DryRun {
		verb = "Would restore"
	}
	fmt.Fprintf(w, "%s %d volumes (%d skipped, %d overwritten)\n",
		verb, result.Restored+result.Overwritten, result.Skipped, result.Overwritten)
	return nil
}

func warnWeakPassphrase(cmd *cobra.Command, passphrase []byte) {
	if cli.PassphraseStrength(passphrase) == cli.StrengthWeak {
		fmt.Fprintln(cmd.ErrOrStderr(), "Warning: passphrase is weak (fewer than 8 characters)")
	}
}
