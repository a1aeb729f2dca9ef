package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/volumectl/pkg/volume"
)

// Magic number for backup files: "VCTL_BKP"
var MagicNumber = [8]byte{'V', 'C', 'T', 'L', '_', 'B', 'K', 'P'}

// Current backup format version.
const FormatVersion = 1

// maxHeaderSize bounds the header read before authentication.
const maxHeaderSize = 1024 * 1024

// KDFParams contains Argon2id key derivation parameters.
type KDFParams struct {
	Salt        []byte `json:"salt"`
	Memory      uint32 `json:"memory"`     // KiB
	Iterations  uint32 `json:"iterations"` // Time cost
	Parallelism uint8  `json:"parallelism"`
}

// Header contains backup file metadata. It is authenticated but not
// encrypted.
type Header struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	SchemaVersion int       `json:"schema_version"`
	KDFParams     KDFParams `json:"kdf_params"`
	VolumeCount   int       `json:"volume_count"`
	ChecksumAlgo  string    `json:"checksum_algorithm"`
}

// Payload contains the encrypted backup data.
type Payload struct {
	Volumes []Volume `json:"volumes"`
}

// Volume is the serialized form of a registry record.
type Volume struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	Hidden           bool   `json:"hidden"`
	Type             string `json:"type"`
	VerificationHash []byte `json:"hash,omitempty"`
	IV               []byte `json:"iv,omitempty"`
}

func fromRecord(rec volume.Record) Volume {
	return Volume{
		UUID:             rec.UUID,
		Name:             rec.Name,
		Hidden:           rec.Hidden,
		Type:             rec.Type.String(),
		VerificationHash: rec.VerificationHash,
		IV:               rec.IV,
	}
}

func (v Volume) record() (volume.Record, error) {
	typ, ok := volume.ParseType(v.Type)
	if !ok || v.UUID == "" || v.Name == "" {
		return volume.Record{}, fmt.Errorf("%w: %q", ErrInvalidVolume, v.Name)
	}
	if (len(v.VerificationHash) == 0) != (len(v.IV) == 0) {
		return volume.Record{}, fmt.Errorf("%w: %q has an unpaired verification hash", ErrInvalidVolume, v.Name)
	}
	return volume.Record{
		UUID:             v.UUID,
		Name:             v.Name,
		Hidden:           v.Hidden,
		Type:             typ,
		VerificationHash: v.VerificationHash,
		IV:               v.IV,
	}, nil
}

// WriteHeader writes the magic number and header to the writer.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	// Header length (4 bytes, big-endian)
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header from the reader.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, ErrInvalidMagic
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, ErrTruncated
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}

// EncodePayload encodes the payload to JSON bytes.
func EncodePayload(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes JSON bytes to a payload.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}
