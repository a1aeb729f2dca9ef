// Package config loads volumectl settings from config.yaml, an optional
// .env file and VOLUMECTL_* environment variables, in that order of
// increasing precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file inside the home directory.
	FileName = "config.yaml"
	// EnvFileName is the optional dotenv file inside the home directory.
	EnvFileName = ".env"

	defaultHomeDir      = ".volumectl"
	defaultRootDir      = "files"
	defaultDatabasePath = "databases/volumes.db"
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultLogMaxSizeMB = 10
	defaultLogMaxFiles  = 5
	defaultAuditDir     = "audit"
)

// Environment variables
const (
	EnvHome     = "VOLUMECTL_HOME"
	EnvRoot     = "VOLUMECTL_ROOT"
	EnvDatabase = "VOLUMECTL_DATABASE"
	EnvLogLevel = "VOLUMECTL_LOG_LEVEL"
	EnvLogFile  = "VOLUMECTL_LOG_FILE"

	EnvLogMaxSizeMB = "VOLUMECTL_LOG_MAX_SIZE_MB"
	EnvAuditDir     = "VOLUMECTL_AUDIT_DIR"
)

var ErrInvalidConfig = errors.New("config: invalid config")

type Config struct {
	// Home is the directory the config was loaded from. Relative paths in
	// the file are resolved against it.
	Home     string        `yaml:"-"`
	Root     string        `yaml:"root"`
	Database string        `yaml:"database"`
	Logging  LoggingConfig `yaml:"logging"`
	Audit    AuditConfig   `yaml:"audit"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

// AuditConfig controls the journal of registry changes.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type LoadOptions struct {
	// Home overrides VOLUMECTL_HOME and the default ~/.volumectl.
	Home string
	// Env replaces the process environment when non-nil.
	Env map[string]string
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig(home string) Config {
	return Config{
		Home:     home,
		Root:     filepath.Join(home, defaultRootDir),
		Database: filepath.Join(home, filepath.FromSlash(defaultDatabasePath)),
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			Format:    defaultLogFormat,
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
		Audit: AuditConfig{
			Enabled: true,
			Dir:     filepath.Join(home, defaultAuditDir),
		},
	}
}

// Load resolves the home directory and builds the effective configuration.
// A missing config file or .env file is not an error.
func Load(opts LoadOptions) (Config, error) {
	home, err := resolveHome(opts)
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve home: %w", err)
	}

	dotenv, err := readDotenv(filepath.Join(home, EnvFileName))
	if err != nil {
		return Config{}, err
	}
	env := envLookup(opts, dotenv)

	cfg := DefaultConfig(home)
	if err := loadFile(filepath.Join(home, FileName), &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}

	cfg.Root = resolvePath(home, cfg.Root)
	cfg.Database = resolvePath(home, cfg.Database)
	cfg.Audit.Dir = resolvePath(home, cfg.Audit.Dir)
	if cfg.Logging.File != "" {
		cfg.Logging.File = resolvePath(home, cfg.Logging.File)
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveHome(opts LoadOptions) (string, error) {
	if opts.Home != "" {
		return opts.Home, nil
	}
	if value, ok := envLookup(opts, nil)(EnvHome); ok {
		return value, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userHome, defaultHomeDir), nil
}

func readDotenv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return values, nil
}

// envLookup prefers the real (or injected) environment over .env values.
func envLookup(opts LoadOptions, dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if opts.Env != nil {
			if value, ok := opts.Env[key]; ok && value != "" {
				return value, true
			}
		} else if value, ok := os.LookupEnv(key); ok && value != "" {
			return value, true
		}
		value, ok := dotenv[key]
		return value, ok && value != ""
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config, env func(string) (string, bool)) error {
	if value, ok := env(EnvRoot); ok {
		cfg.Root = value
	}
	if value, ok := env(EnvDatabase); ok {
		cfg.Database = value
	}
	if value, ok := env(EnvLogLevel); ok {
		cfg.Logging.Level = value
	}
	if value, ok := env(EnvLogFile); ok {
		cfg.Logging.File = value
	}
	if value, ok := env(EnvLogMaxSizeMB); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, EnvLogMaxSizeMB, err)
		}
		cfg.Logging.MaxSizeMB = parsed
	}
	if value, ok := env(EnvAuditDir); ok {
		cfg.Audit.Dir = value
	}
	return nil
}

func resolvePath(home, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if userHome, err := os.UserHomeDir(); err == nil {
			return filepath.Join(userHome, rest)
		}
	}
	return filepath.Join(home, path)
}

func validate(cfg Config) error {
	if cfg.Root == "" {
		return fmt.Errorf("%w: root must not be empty", ErrInvalidConfig)
	}
	if cfg.Database == "" {
		return fmt.Errorf("%w: database must not be empty", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be one of debug, info, warn, error", ErrInvalidConfig)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalidConfig)
	}
	if cfg.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: logging.max_size_mb must be positive", ErrInvalidConfig)
	}
	if cfg.Logging.MaxFiles <= 0 {
		return fmt.Errorf("%w: logging.max_files must be positive", ErrInvalidConfig)
	}
	if cfg.Audit.Enabled && cfg.Audit.Dir == "" {
		return fmt.Errorf("%w: audit.dir must not be empty when audit is enabled", ErrInvalidConfig)
	}
	return nil
}
