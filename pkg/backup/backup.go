package backup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/forest6511/volumectl/pkg/crypto"
	"github.com/forest6511/volumectl/pkg/registry"
	"github.com/forest6511/volumectl/pkg/volume"
)

// ConflictMode specifies how to handle volumes that already exist during
// restore.
type ConflictMode int

const (
	// ConflictError fails before anything is written.
	ConflictError ConflictMode = iota
	// ConflictSkip keeps the registered volume.
	ConflictSkip
	// ConflictOverwrite replaces the registered volume with the backup's.
	ConflictOverwrite
)

// ParseConflictMode maps a flag value to a ConflictMode.
func ParseConflictMode(s string) (ConflictMode, error) {
	switch s {
	case "error", "":
		return ConflictError, nil
	case "skip":
		return ConflictSkip, nil
	case "overwrite":
		return ConflictOverwrite, nil
	}
	return 0, fmt.Errorf("invalid conflict mode %q (use error, skip or overwrite)", s)
}

// Source provides the records to back up.
type Source interface {
	List() ([]volume.Record, error)
}

// Target receives restored records. *registry.Registry implements it.
type Target interface {
	Source
	Get(name string, hidden bool) (*volume.Record, error)
	Register(rec *volume.Record) (bool, error)
	Remove(rec *volume.Record) (bool, error)
}

// BackupOptions configures the backup operation.
type BackupOptions struct {
	// Output is the destination writer for the backup.
	Output io.Writer
	// Passphrase protects the backup. It is unrelated to volume passphrases.
	Passphrase []byte
	// SchemaVersion is recorded in the header.
	SchemaVersion int
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	OnConflict ConflictMode
	// DryRun reports what would happen without writing.
	DryRun bool
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	Restored    int
	Skipped     int
	Overwritten int
	DryRun      bool
}

// Backup writes an encrypted backup of every record in src.
//
// Layout: magic, header length, header JSON, payload length, nonce and
// ciphertext, then an HMAC-SHA256 over everything before it.
func Backup(src Source, opts BackupOptions) error {
	if opts.Output == nil {
		return fmt.Errorf("output writer is required")
	}

	records, err := src.List()
	if err != nil {
		return fmt.Errorf("failed to list volumes: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	encKey, macKey, err := DeriveBackupKeys(opts.Passphrase, salt)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	payload := &Payload{Volumes: make([]Volume, 0, len(records))}
	for _, rec := range records {
		payload.Volumes = append(payload.Volumes, fromRecord(rec))
	}
	plaintext, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(plaintext)

	ciphertext, err := EncryptPayload(plaintext, encKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	header := &Header{
		Version:       FormatVersion,
		CreatedAt:     time.Now().UTC(),
		SchemaVersion: opts.SchemaVersion,
		KDFParams: KDFParams{
			Salt:        salt,
			Memory:      crypto.Argon2Memory,
			Iterations:  crypto.Argon2Time,
			Parallelism: crypto.Argon2Threads,
		},
		VolumeCount:  len(records),
		ChecksumAlgo: "sha256",
	}

	// Buffer everything for the HMAC
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return fmt.Errorf("failed to write payload length: %w", err)
	}
	buf.Write(ciphertext)
	buf.Write(ComputeHMAC(buf.Bytes(), macKey))

	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// Read authenticates and decrypts a backup and returns its records.
func Read(r io.Reader, passphrase []byte) (*Header, []volume.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read backup: %w", err)
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	var payloadLen uint32
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, nil, ErrTruncated
	}
	if reader.Len() != int(payloadLen)+HMACLength {
		return nil, nil, ErrTruncated
	}
	signedLen := len(data) - HMACLength
	ciphertext := data[signedLen-int(payloadLen) : signedLen]

	if header.KDFParams.Memory != crypto.Argon2Memory ||
		header.KDFParams.Iterations != crypto.Argon2Time ||
		header.KDFParams.Parallelism != crypto.Argon2Threads {
		return nil, nil, fmt.Errorf("%w: unsupported key derivation parameters", ErrUnsupportedVersion)
	}
	encKey, macKey, err := DeriveBackupKeys(passphrase, header.KDFParams.Salt)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !VerifyHMAC(data[:signedLen], data[signedLen:], macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := DecryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := DecodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	records := make([]volume.Record, 0, len(payload.Volumes))
	for _, v := range payload.Volumes {
		rec, err := v.record()
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// Restore registers records in dst. Conflicts are resolved by
// (name, hidden); a record whose uuid is already used by a differently
// named volume is a conflict as well and is never overwritten. Under
// ConflictError every conflict is found before anything is written.
func Restore(dst Target, records []volume.Record, opts RestoreOptions) (*RestoreResult, error) {
	result := &RestoreResult{DryRun: opts.DryRun}

	registered, err := dst.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}
	owners := make(map[string]volume.Record, len(registered))
	for _, rec := range registered {
		owners[rec.UUID] = rec
	}

	existing := make([]*volume.Record, len(records))
	uuidTaken := make([]bool, len(records))
	seen := make(map[string]bool, len(records))
	for i := range records {
		rec, err := dst.Get(records[i].Name, records[i].Hidden)
		if err != nil {
			return nil, err
		}
		if seen[records[i].UUID] {
			if opts.OnConflict == ConflictError {
				return nil, fmt.Errorf("%w: uuid of %q repeats in the backup", ErrConflict, records[i].Name)
			}
			uuidTaken[i] = true
		}
		seen[records[i].UUID] = true
		if owner, ok := owners[records[i].UUID]; ok && (owner.Name != records[i].Name || owner.Hidden != records[i].Hidden) {
			if opts.OnConflict == ConflictError {
				return nil, fmt.Errorf("%w: uuid of %q is used by %q", ErrConflict, records[i].Name, owner.Name)
			}
			uuidTaken[i] = true
		}
		if rec != nil && opts.OnConflict == ConflictError {
			return nil, fmt.Errorf("%w: %q", ErrConflict, rec.Name)
		}
		existing[i] = rec
	}

	for i := range records {
		rec := records[i]
		switch {
		case uuidTaken[i], existing[i] != nil && opts.OnConflict == ConflictSkip:
			result.Skipped++
			continue
		case existing[i] == nil:
			result.Restored++
		default:
			result.Overwritten++
		}
		if opts.DryRun {
			continue
		}

		if existing[i] != nil {
			if _, err := dst.Remove(existing[i]); err != nil {
				return result, fmt.Errorf("failed to replace %q: %w", rec.Name, err)
			}
		}
		ok, err := dst.Register(&rec)
		if errors.Is(err, registry.ErrDuplicateKey) {
			if existing[i] != nil {
				if _, err := dst.Register(existing[i]); err != nil {
					return result, fmt.Errorf("failed to reinstate %q: %w", rec.Name, err)
				}
			}
			if opts.OnConflict == ConflictError {
				return result, fmt.Errorf("%w: uuid of %q is used by another volume", ErrConflict, rec.Name)
			}
			undoCount(result, existing[i] != nil)
			result.Skipped++
			continue
		}
		if err != nil {
			return result, fmt.Errorf("failed to restore %q: %w", rec.Name, err)
		}
		if !ok {
			undoCount(result, existing[i] != nil)
			result.Skipped++
		}
	}
	return result, nil
}

func undoCount(result *RestoreResult, overwrite bool) {
	if overwrite {
		result.Overwritten--
	} else {
		result.Restored--
	}
}
