package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	auditLimit int
	auditSince string

	auditPruneOlderThan string
	auditPruneDryRun    bool
	auditPruneForce     bool
)

var errAuditDisabled = errors.New("audit journal is disabled (audit.enabled: false)")

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")

	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "Delete months whose events are all older than this (e.g., 12m)")
	auditPruneCmd.Flags().BoolVar(&auditPruneDryRun, "dry-run", false, "Show what would be deleted")
	auditPruneCmd.Flags().BoolVarP(&auditPruneForce, "force", "f", false, "Skip the confirmation prompt")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the journal of registry changes",
	Long: `Inspect the tamper-evident journal of registry changes.

Every register, rename, remove and hash operation is appended to an
HMAC-chained JSONL journal. Volume names are stored as HMACs.`,
}

var auditListCmd = &cobra.Command{
	Use:         "list",
	Short:       "List audit events",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationSkipRegistry: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if journal == nil {
			return errAuditDisabled
		}

		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		events, err := journal.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}

		w := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(w, "No audit events found")
			return nil
		}

		for _, event := range events {
			// Format: TIMESTAMP OPERATION RESULT [VOLUME]
			line := fmt.Sprintf("%s %s %s", event.Timestamp, event.Operation, event.Result)
			if event.Volume != "" {
				line += fmt.Sprintf(" volume:%s...", event.Volume[:min(16, len(event.Volume))])
			}
			if event.Hidden {
				line += " hidden"
			}
			if event.Error != "" {
				line += fmt.Sprintf(" error:%q", event.Error)
			}
			fmt.Fprintln(w, line)
		}

		fmt.Fprintf(w, "\nTotal: %d events\n", len(events))
		return nil
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:         "verify",
	Short:       "Verify audit journal HMAC chain integrity",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationSkipRegistry: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if journal == nil {
			return errAuditDisabled
		}

		result, err := journal.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit journal: %w", err)
		}

		w := cmd.OutOrStdout()
		if !result.Valid {
			fmt.Fprintf(w, "Audit journal verification FAILED\n")
			fmt.Fprintf(w, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintln(w, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(w, "    - %s\n", e)
			}
			return fmt.Errorf("audit journal integrity check failed")
		}

		fmt.Fprintf(w, "Audit journal verified: %d records, chain intact\n", result.RecordsTotal)

		// Also output as JSON for machine parsing
		jsonResult, _ := json.Marshal(result)
		fmt.Fprintf(w, "\nJSON: %s\n", jsonResult)
		return nil
	},
}

var auditPruneCmd = &cobra.Command{
	Use:         "prune",
	Short:       "Delete old audit journal files",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{annotationSkipRegistry: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if journal == nil {
			return errAuditDisabled
		}
		if auditPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		duration, err := parseDuration(auditPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}

		w := cmd.OutOrStdout()
		count, err := journal.Prune(duration, true)
		if err != nil {
			return fmt.Errorf("failed to preview prune: %w", err)
		}
		if auditPruneDryRun {
			fmt.Fprintf(w, "Would delete %d audit events older than %s\n", count, auditPruneOlderThan)
			return nil
		}
		if count == 0 {
			fmt.Fprintln(w, "No audit events to delete")
			return nil
		}

		if !auditPruneForce {
			fmt.Fprintf(w, "This will delete %d audit events older than %s.\n", count, auditPruneOlderThan)
			fmt.Fprint(w, "Are you sure? [y/N]: ")
			response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if r := strings.TrimSpace(response); r != "y" && r != "Y" {
				fmt.Fprintln(w, "Aborted")
				return nil
			}
		}

		deleted, err := journal.Prune(duration, false)
		if err != nil {
			return fmt.Errorf("failed to prune audit journal: %w", err)
		}
		fmt.Fprintf(w, "Deleted %d audit events\n", deleted)
		return nil
	},
}

// parseDuration accepts time.ParseDuration syntax plus a count of days (d),
// weeks (w), months of 30 days (m) or years of 365 days (y).
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	day := 24 * time.Hour
	var unit time.Duration
	switch s[len(s)-1] {
	case 'd':
		unit = day
	case 'w':
		unit = 7 * day
	case 'm':
		unit = 30 * day
	case 'y':
		unit = 365 * day
	default:
		return time.ParseDuration(s)
	}

	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid duration value: %s", s[:len(s)-1])
	}
	return time.Duration(value) * unit, nil
}
