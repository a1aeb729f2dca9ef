// Package backup writes and restores encrypted backups of the volume
// registry.
package backup

import "errors"

// Backup/Restore errors
var (
	// ErrInvalidMagic indicates the backup file has an invalid magic number.
	ErrInvalidMagic = errors.New("invalid backup file: magic number mismatch")

	// ErrUnsupportedVersion indicates the backup format version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported backup format version")

	// ErrIntegrityFailed indicates the HMAC verification failed, usually
	// because the passphrase is wrong.
	ErrIntegrityFailed = errors.New("backup integrity check failed: wrong passphrase or modified file")

	// ErrDecryptionFailed indicates decryption failed due to corruption.
	ErrDecryptionFailed = errors.New("backup decryption failed: corrupted data")

	// ErrTruncated indicates the file ends before the declared payload.
	ErrTruncated = errors.New("backup file truncated")

	// ErrConflict indicates a volume already exists during restore.
	ErrConflict = errors.New("restore conflict: volume already registered")

	// ErrInvalidVolume indicates a backup entry that cannot be registered.
	ErrInvalidVolume = errors.New("backup contains an invalid volume")

	// ErrEmptyPassphrase indicates an empty passphrase was provided.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
)
