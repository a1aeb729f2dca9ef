// Package volume describes encrypted volumes known to the registry: the
// record stored per volume, the format discriminators, and the helpers used
// to locate and identify volume containers on disk.
package volume

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Directory layout under the application private root.
const (
	// VolumesDirectory holds hidden volumes.
	VolumesDirectory = "volumes"
	// CryfsLocalStateDir is cryfs' own state directory, never a volume.
	CryfsLocalStateDir = "cryfsLocalState"
)

// Type identifies the encryption backend a volume was created with.
// It is persisted as a single byte.
type Type int8

const (
	// TypeUnknown is returned by probes for directories that are not volumes.
	// It is never stored.
	TypeUnknown   Type = -1
	TypeGocryptfs Type = 0
	TypeCryfs     Type = 1

	// TypeLegacy is the format every volume had before types were recorded.
	TypeLegacy = TypeGocryptfs
)

// String returns the backend name.
func (t Type) String() string {
	switch t {
	case TypeGocryptfs:
		return "gocryptfs"
	case TypeCryfs:
		return "cryfs"
	default:
		return "unknown"
	}
}

// Valid reports whether t may be stored in a record.
func (t Type) Valid() bool {
	return t == TypeGocryptfs || t == TypeCryfs
}

// ParseType maps a backend name to its discriminator.
func ParseType(s string) (Type, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gocryptfs":
		return TypeGocryptfs, true
	case "cryfs":
		return TypeCryfs, true
	default:
		return TypeUnknown, false
	}
}

// Byte returns the on-disk encoding of t.
func (t Type) Byte() byte {
	return byte(t)
}

// Record is one registered volume.
type Record struct {
	UUID   string // Primary key, stable for the volume's lifetime
	Name   string // Unique together with Hidden
	Hidden bool   // Hidden volumes live under VolumesDirectory
	Type   Type

	// VerificationHash and IV are both set or both nil.
	VerificationHash []byte
	IV               []byte
}

// HasVerificationHash reports whether r carries a verification hash.
func (r *Record) HasVerificationHash() bool {
	return r.VerificationHash != nil
}

// Equal compares every field of r and o.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.UUID == o.UUID &&
		r.Name == o.Name &&
		r.Hidden == o.Hidden &&
		r.Type == o.Type &&
		bytes.Equal(r.VerificationHash, o.VerificationHash) &&
		bytes.Equal(r.IV, o.IV) &&
		(r.VerificationHash == nil) == (o.VerificationHash == nil) &&
		(r.IV == nil) == (o.IV == nil)
}

// Path resolves the record's container location under root.
func (r *Record) Path(root string) string {
	return FullPath(r.Name, r.Hidden, root)
}

// NewUUID returns a fresh random identifier.
func NewUUID() string {
	return uuid.New().String()
}

// PathJoin joins base and name into a cleaned path.
func PathJoin(base, name string) string {
	return filepath.Join(base, name)
}

// FullPath resolves a volume's container path. Hidden volumes are addressed
// by name inside root/volumes; visible volumes are registered by their path.
func FullPath(name string, hidden bool, root string) string {
	if hidden {
		return PathJoin(PathJoin(root, VolumesDirectory), name)
	}
	return name
}

// NormalizeName trims a user supplied name and converts it to NFC so that
// names typed on different platforms compare equal.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
