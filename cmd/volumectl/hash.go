package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/volumectl/internal/cli"
	"github.com/forest6511/volumectl/pkg/audit"
	"github.com/forest6511/volumectl/pkg/crypto"
)

// readPassphrase is replaced in tests.
var readPassphrase = cli.ReadPassphrase

// errWrongPassphrase makes verify exit non-zero.
var errWrongPassphrase = errors.New("passphrase does not match the stored verification hash")

func init() {
	rootCmd.AddCommand(hashCmd)
	hashCmd.AddCommand(hashStatusCmd)
	hashCmd.AddCommand(hashSetCmd)
	hashCmd.AddCommand(hashClearCmd)
	hashCmd.AddCommand(hashVerifyCmd)

	for _, cmd := range []*cobra.Command{hashStatusCmd, hashSetCmd, hashClearCmd, hashVerifyCmd} {
		cmd.Flags().BoolVar(&hiddenFlag, "hidden", false, "Volume lives in the private volumes directory")
	}
}

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Manage passphrase verification hashes",
	Long: `Manage the verification hash stored with a volume.

A verification hash lets volumectl check a passphrase without mounting the
volume. It is derived with Argon2id and never printed.`,
}

var hashStatusCmd = &cobra.Command{
	Use:               "status NAME",
	Short:             "Report whether a verification hash is stored",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		ok, err := reg.HasVerificationHash(rec)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: verification hash stored\n", rec.Name)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: no verification hash\n", rec.Name)
		}
		return nil
	},
}

var hashSetCmd = &cobra.Command{
	Use:               "set NAME",
	Short:             "Store a verification hash for a passphrase",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Volume passphrase: ", true)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(passphrase)
		warnWeakPassphrase(cmd, passphrase)

		rec.VerificationHash, rec.IV, err = crypto.NewVerificationHash(passphrase)
		if err != nil {
			return err
		}
		_, err = reg.SetVerificationHash(rec)
		auditResult(audit.OpHashSet, rec.Name, rec.Hidden, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored verification hash for %s\n", rec.Name)
		return nil
	},
}

var hashClearCmd = &cobra.Command{
	Use:               "clear NAME",
	Short:             "Remove the stored verification hash",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		_, err = reg.ClearVerificationHash(rec)
		auditResult(audit.OpHashClear, rec.Name, rec.Hidden, err)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared verification hash for %s\n", rec.Name)
		return nil
	},
}

var hashVerifyCmd = &cobra.Command{
	Use:               "verify NAME",
	Short:             "Check a passphrase against the stored verification hash",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeVolumeNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := lookupVolume(args[0], hiddenFlag)
		if err != nil {
			return err
		}
		if !rec.HasVerificationHash() {
			return fmt.Errorf("volume %q has no verification hash", rec.Name)
		}

		passphrase, err := readPassphrase("Volume passphrase: ", false)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(passphrase)

		if !crypto.CheckVerificationHash(passphrase, rec.VerificationHash, rec.IV) {
			recordAudit(audit.Entry{Operation: audit.OpHashVerify, Result: audit.ResultDenied, Volume: rec.Name, Hidden: rec.Hidden})
			return errWrongPassphrase
		}
		auditResult(audit.OpHashVerify, rec.Name, rec.Hidden, nil)
		fmt.Fprintf(cmd.OutOrStdout(), "Passphrase matches %s\n", rec.Name)
		return nil
	},
}
