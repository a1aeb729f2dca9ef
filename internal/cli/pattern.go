// Package cli provides shared utilities for CLI commands.
package cli

import (
	"cmp"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/forest6511/volumectl/pkg/volume"
)

// MatchVolumes filters records by a glob pattern over their names.
// An empty pattern matches everything. A pattern without glob characters
// must match a name exactly.
func MatchVolumes(pattern string, records []volume.Record) ([]volume.Record, error) {
	if pattern == "" {
		return records, nil
	}
	// Validate pattern syntax
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	hasGlob := strings.ContainsAny(pattern, "*?[")

	var matches []volume.Record
	for _, rec := range records {
		if !hasGlob {
			if rec.Name == pattern {
				matches = append(matches, rec)
			}
			continue
		}
		if matched, _ := path.Match(pattern, rec.Name); matched {
			matches = append(matches, rec)
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("no volumes match pattern '%s'", pattern)
	}
	return matches, nil
}

// SortVolumes returns a copy of records ordered by name, visible volumes
// before hidden ones of the same name.
func SortVolumes(records []volume.Record) []volume.Record {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b volume.Record) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		switch {
		case a.Hidden == b.Hidden:
			return 0
		case b.Hidden:
			return -1
		default:
			return 1
		}
	})
	return sorted
}

// Names returns the names of records in order.
func Names(records []volume.Record) []string {
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Name)
	}
	return names
}
