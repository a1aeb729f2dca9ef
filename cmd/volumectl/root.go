package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/volumectl/internal/config"
	"github.com/forest6511/volumectl/internal/logging"
	"github.com/forest6511/volumectl/pkg/audit"
	"github.com/forest6511/volumectl/pkg/registry"
	"github.com/forest6511/volumectl/pkg/volume"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// annotationSkipRegistry marks commands that run without opening the registry.
const annotationSkipRegistry = "volumectl/skip-registry"

// Global flags
var (
	flagHome     string
	flagRoot     string
	flagDatabase string
	flagLogLevel string
)

var (
	cfg       config.Config
	reg       *registry.Registry
	journal   *audit.Logger
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:           "volumectl",
	Short:         "volumectl manages the registry of encrypted volumes",
	Long:          `Register, inspect and maintain the metadata of gocryptfs and CryFS volumes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand. It loads the
	// configuration and opens (and if needed upgrades) the registry.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setup(cmd); err != nil {
			return err
		}
		if skipsRegistry(cmd) {
			return nil
		}
		return openRegistry()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return teardown()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Configuration directory (default $VOLUMECTL_HOME or ~/.volumectl)")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "Directory holding volume containers")
	rootCmd.PersistentFlags().StringVar(&flagDatabase, "database", "", "Path of the registry database")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// setup loads the configuration and builds the logger.
func setup(cmd *cobra.Command) error {
	var err error
	cfg, err = config.Load(config.LoadOptions{Home: flagHome})
	if err != nil {
		return err
	}
	if flagRoot != "" {
		cfg.Root = flagRoot
	}
	if flagDatabase != "" {
		cfg.Database = flagDatabase
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	logger, logCloser, err = logging.New(logging.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		File:      cfg.Logging.File,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Stderr:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	if cfg.Audit.Enabled {
		journal, err = audit.Open(cfg.Audit.Dir)
		if err != nil {
			return fmt.Errorf("failed to open audit journal: %w", err)
		}
	}
	return nil
}

// skipsRegistry reports whether cmd runs without an open registry. Shell
// completion requests open it themselves in completeVolumeNames.
func skipsRegistry(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.Annotations[annotationSkipRegistry] == "true"
}

func openRegistry() error {
	var err error
	reg, err = registry.Open(registry.Options{
		Path:   cfg.Database,
		Root:   cfg.Root,
		Logger: logger.With("component", "registry"),
	})
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}

	report := reg.Report()
	if report.Upgraded() {
		logger.Info("upgraded volume database", "from", report.FromVersion, "to", report.ToVersion)
	}
	for _, name := range report.DuplicateNames {
		logger.Warn("legacy volumes shared a name and were kept as separate entries", "volume", name)
	}
	if report.Upgraded() || report.RepairedRows > 0 || len(report.RelocatedStrays) > 0 {
		recordAudit(audit.Entry{
			Operation: audit.OpRegistryMigrate,
			Result:    audit.ResultSuccess,
			Context: map[string]string{
				"from":      strconv.Itoa(report.FromVersion),
				"to":        strconv.Itoa(report.ToVersion),
				"repaired":  strconv.Itoa(report.RepairedRows),
				"moved":     strconv.Itoa(len(report.MovedHidden)),
				"relocated": strconv.Itoa(len(report.RelocatedStrays)),
			},
		})
	}
	return nil
}

// recordAudit appends e to the journal. A journal failure is reported but
// does not fail the command that already changed the registry.
func recordAudit(e audit.Entry) {
	if journal == nil {
		return
	}
	if e.Source == "" {
		e.Source = audit.SourceCLI
	}
	if err := journal.Log(e); err != nil {
		logger.Warn("failed to write audit event", "op", e.Operation, "error", err)
	}
}

// auditResult records the outcome of an operation on a volume.
func auditResult(op, name string, hidden bool, err error) {
	if journal == nil {
		return
	}
	var logErr error
	if err != nil {
		logErr = journal.LogError(op, audit.SourceCLI, name, hidden, err)
	} else {
		logErr = journal.LogSuccess(op, audit.SourceCLI, name, hidden)
	}
	if logErr != nil {
		logger.Warn("failed to write audit event", "op", op, "error", logErr)
	}
}

func teardown() error {
	var err error
	if reg != nil {
		err = reg.Close()
		reg = nil
	}
	if journal != nil {
		journal.Close()
		journal = nil
	}
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
	return err
}

// resolveName turns a user supplied volume reference into the stored name.
// Hidden volumes are plain names inside the volumes directory; visible
// volumes are registered by absolute path.
func resolveName(arg string, hidden bool) (string, error) {
	name := volume.NormalizeName(arg)
	if hidden {
		name = strings.TrimRight(name, `/\`)
	}
	if name == "" {
		return "", fmt.Errorf("volume name must not be empty")
	}
	if hidden {
		if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
			return "", fmt.Errorf("hidden volume name %q must not contain path separators", name)
		}
		return name, nil
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", name, err)
	}
	return abs, nil
}

// lookupVolume returns the record for arg or a not-found error.
func lookupVolume(arg string, hidden bool) (*volume.Record, error) {
	name, err := resolveName(arg, hidden)
	if err != nil {
		return nil, err
	}
	rec, err := reg.Get(name, hidden)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("volume %q not found", name)
	}
	return rec, nil
}

func execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		teardown()
		return 1
	}
	return 0
}
