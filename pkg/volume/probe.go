package volume

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Config files that mark a directory as a volume container.
const (
	GocryptfsConfigFile = "gocryptfs.conf"
	CryfsConfigFile     = "cryfs.config"
)

// ErrNotRecognized is returned when a path is not a known volume container.
var ErrNotRecognized = errors.New("volume: not a recognized volume format")

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -destination=mocks/mock_prober.go -package=mocks github.com/forest6511/volumectl/pkg/volume Prober

// Prober identifies the format of an on-disk volume container.
type Prober interface {
	// ProbeType returns the container's type, or TypeUnknown together with
	// ErrNotRecognized when path holds no known volume.
	ProbeType(path string) (Type, error)
}

// FileProber recognizes containers by their backend config file.
type FileProber struct{}

// ProbeType implements Prober.
func (FileProber) ProbeType(path string) (Type, error) {
	info, err := os.Stat(path)
	if err != nil {
		return TypeUnknown, fmt.Errorf("volume: failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return TypeUnknown, ErrNotRecognized
	}

	candidates := []struct {
		file string
		t    Type
	}{
		{GocryptfsConfigFile, TypeGocryptfs},
		{CryfsConfigFile, TypeCryfs},
	}
	for _, c := range candidates {
		fi, err := os.Stat(filepath.Join(path, c.file))
		if err == nil && fi.Mode().IsRegular() {
			return c.t, nil
		}
	}
	return TypeUnknown, ErrNotRecognized
}
