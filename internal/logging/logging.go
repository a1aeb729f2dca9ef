// Package logging builds the slog.Logger used by volumectl: text or JSON
// output on stderr, an optional rotating log file, and redaction of
// credential fields.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults used when Options leaves them unset.
const (
	DefaultMaxSizeMB = 10
	DefaultMaxFiles  = 5
)

// Options mirrors the logging section of the configuration.
type Options struct {
	Level  string
	Format string
	// File enables a second, rotated copy of the output. Rotated files
	// keep the base name with a timestamp suffix.
	File      string
	MaxSizeMB int
	MaxFiles  int

	// Stderr receives console output. Defaults to os.Stderr.
	Stderr io.Writer
}

// New returns a logger and a closer for its file output. The closer is
// never nil.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	var out io.Writer = os.Stderr
	if opts.Stderr != nil {
		out = opts.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		w, err := fileWriter(opts)
		if err != nil {
			return nil, nil, err
		}
		out = io.MultiWriter(out, w)
		closer = w
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(out, handlerOpts)
	case "json":
		h = slog.NewJSONHandler(out, handlerOpts)
	default:
		closer.Close()
		return nil, nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	return slog.New(NewRedactingHandler(h)), closer, nil
}

// fileWriter opens opts.File for appending through lumberjack, creating
// its directory.
func fileWriter(opts Options) (*lumberjack.Logger, error) {
	maxSize, maxFiles := opts.MaxSizeMB, opts.MaxFiles
	if maxSize <= 0 {
		maxSize = DefaultMaxSizeMB
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o700); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    maxSize,
		MaxBackups: maxFiles,
	}, nil
}

// ParseLevel maps a config level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging: unknown level %q", s)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
