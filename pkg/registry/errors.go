package registry

import "errors"

// Errors
var (
	ErrDuplicateKey    = errors.New("registry: a volume with this uuid already exists")
	ErrInvalidRecord   = errors.New("registry: invalid volume record")
	ErrUnpairedHash    = errors.New("registry: verification hash and iv must be set together")
	ErrUnknownColumn   = errors.New("registry: unknown column")
	ErrCorruptRecord   = errors.New("registry: stored volume record is corrupted")
	ErrClosed          = errors.New("registry: registry is closed")
	ErrMigrationFailed = errors.New("registry: schema migration failed")
	ErrSchemaTooNew    = errors.New("registry: database schema is newer than this build supports")
)
