// Package registry persists the metadata of encrypted volumes: identity,
// placement, format and the optional verification hash. Opening a registry
// upgrades older databases and repairs rows damaged by earlier releases
// before any query is served.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/forest6511/volumectl/pkg/volume"
)

// Options configures Open.
type Options struct {
	// Path is the SQLite database file.
	Path string
	// Root is the application private root holding volume containers.
	Root string
	// Logger receives migration and repair events. Defaults to discarding.
	Logger *slog.Logger
	// Prober identifies stray containers during upgrades. Defaults to
	// volume.FileProber.
	Prober volume.Prober
	// NewID generates identifiers for the uuid backfill. Defaults to
	// volume.NewUUID.
	NewID func() string
}

// Registry is the volume metadata registry. It is safe for use from
// several goroutines of one process.
type Registry struct {
	mu     sync.RWMutex
	store  *Store
	root   string
	log    *slog.Logger
	report Report
}

// Open opens the registry database, creating, upgrading and repairing it
// as needed. It returns only once the database is at the current schema; a
// structural migration failure is returned wrapped in ErrMigrationFailed
// and no registry is handed out.
func Open(opts Options) (*Registry, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("registry: empty root directory")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Prober == nil {
		opts.Prober = volume.FileProber{}
	}
	if opts.NewID == nil {
		opts.NewID = volume.NewUUID
	}

	if err := os.MkdirAll(opts.Root, DirMode); err != nil {
		return nil, fmt.Errorf("registry: failed to create root directory: %w", err)
	}

	store, err := OpenStore(opts.Path)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store: store,
		root:  opts.Root,
		log:   opts.Logger,
	}
	m := &migrator{
		db:     store.raw(),
		root:   opts.Root,
		prober: opts.Prober,
		newID:  opts.NewID,
		log:    opts.Logger.With("component", "migrator"),
		report: &r.report,
	}
	if err := m.migrateSchema(); err != nil {
		store.Close()
		return nil, err
	}

	return r, nil
}

// Close closes the database. Later operations return ErrClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

// Root returns the application private root.
func (r *Registry) Root() string {
	return r.root
}

// Report returns what Open did to the database.
func (r *Registry) Report() Report {
	rep := r.report
	rep.MovedHidden = slices.Clone(rep.MovedHidden)
	rep.RelocatedStrays = slices.Clone(rep.RelocatedStrays)
	rep.DuplicateNames = slices.Clone(rep.DuplicateNames)
	return rep
}

// Get returns the volume with the given name and placement, or nil.
func (r *Registry) Get(name string, hidden bool) (*volume.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return nil, ErrClosed
	}
	return r.first(ByNameHidden(name, hidden))
}

// Exists reports whether a volume with the given name and placement exists.
func (r *Registry) Exists(name string, hidden bool) (bool, error) {
	rec, err := r.Get(name, hidden)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Register stores rec. It returns false without error when the
// (name, hidden) pair is already taken. rec.UUID must be set by the caller.
func (r *Registry) Register(rec *volume.Record) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return false, ErrClosed
	}

	existing, err := r.first(ByNameHidden(rec.Name, rec.Hidden))
	if err != nil {
		return false, err
	}
	if existing != nil {
		r.log.Debug("volume already registered", "volume", rec.Name, "hidden", rec.Hidden)
		return false, nil
	}

	stored := *rec
	if len(stored.VerificationHash) == 0 {
		stored.VerificationHash, stored.IV = nil, nil
	}
	if err := r.store.Insert(&stored); err != nil {
		return false, err
	}
	r.log.Info("registered volume", "volume", rec.Name, "uuid", rec.UUID, "hidden", rec.Hidden, "type", rec.Type.String())
	return true, nil
}

// List returns every registered volume.
func (r *Registry) List() ([]volume.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return nil, ErrClosed
	}
	return collect(r.store.ScanAll())
}

// HasVerificationHash reports whether the stored row for rec carries a
// verification hash.
func (r *Registry) HasVerificationHash(rec *volume.Record) (bool, error) {
	if err := identified(rec); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.store == nil {
		return false, ErrClosed
	}
	stored, err := r.first(ByUUID(rec.UUID))
	if err != nil || stored == nil {
		return false, err
	}
	return stored.HasVerificationHash(), nil
}

// SetVerificationHash stores rec.VerificationHash and rec.IV for the row
// identified by rec.UUID. Both must be non-empty.
func (r *Registry) SetVerificationHash(rec *volume.Record) (bool, error) {
	if err := identified(rec); err != nil {
		return false, err
	}
	if len(rec.VerificationHash) == 0 || len(rec.IV) == 0 {
		return false, ErrUnpairedHash
	}
	return r.update(rec.UUID, Values{ColumnHash: rec.VerificationHash, ColumnIV: rec.IV})
}

// ClearVerificationHash removes the hash and iv of the row identified by
// rec.UUID.
func (r *Registry) ClearVerificationHash(rec *volume.Record) (bool, error) {
	if err := identified(rec); err != nil {
		return false, err
	}
	return r.update(rec.UUID, Values{ColumnHash: nil, ColumnIV: nil})
}

// Rename changes the stored name of rec. Uniqueness of the new
// (name, hidden) pair is not checked; rec itself is not modified.
func (r *Registry) Rename(rec *volume.Record, newName string) (bool, error) {
	if err := identified(rec); err != nil {
		return false, err
	}
	if newName == "" {
		return false, fmt.Errorf("%w: empty name", ErrInvalidRecord)
	}
	ok, err := r.update(rec.UUID, Values{ColumnName: newName})
	if ok {
		r.log.Info("renamed volume", "uuid", rec.UUID, "from", rec.Name, "to", newName)
	}
	return ok, err
}

// Remove deletes the row identified by rec.UUID.
func (r *Registry) Remove(rec *volume.Record) (bool, error) {
	if err := identified(rec); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return false, ErrClosed
	}
	ok, err := r.store.Delete(rec.UUID)
	if ok {
		r.log.Info("removed volume", "volume", rec.Name, "uuid", rec.UUID)
	}
	return ok, err
}

func (r *Registry) update(uuid string, values Values) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store == nil {
		return false, ErrClosed
	}
	return r.store.Update(uuid, values)
}

// first returns the first record matching p. Callers hold r.mu.
func (r *Registry) first(p Predicate) (*volume.Record, error) {
	for rec, err := range r.store.Query(p) {
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	return nil, nil
}

// identified checks the record operations addressing a row by uuid.
func identified(rec *volume.Record) error {
	switch {
	case rec == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case rec.UUID == "":
		return fmt.Errorf("%w: empty uuid", ErrInvalidRecord)
	}
	return nil
}

func validateRecord(rec *volume.Record) error {
	switch {
	case rec == nil:
		return fmt.Errorf("%w: nil record", ErrInvalidRecord)
	case rec.UUID == "":
		return fmt.Errorf("%w: empty uuid", ErrInvalidRecord)
	case rec.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidRecord)
	case !rec.Type.Valid():
		return fmt.Errorf("%w: type %d", ErrInvalidRecord, rec.Type)
	case (len(rec.VerificationHash) == 0) != (len(rec.IV) == 0):
		return ErrUnpairedHash
	}
	return nil
}
