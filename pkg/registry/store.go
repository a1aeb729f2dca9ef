package registry

import (
	"database/sql"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forest6511/volumectl/pkg/volume"

	_ "modernc.org/sqlite"
)

// Table layout. The names match databases written by earlier releases.
const (
	TableName    = "Volumes"
	ColumnUUID   = "uuid"
	ColumnName   = "name"
	ColumnHidden = "hidden"
	ColumnType   = "type"
	ColumnHash   = "hash"
	ColumnIV     = "iv"

	DirMode  = 0700
	FileMode = 0600
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS ` + TableName + ` (
	` + ColumnUUID + ` TEXT PRIMARY KEY,
	` + ColumnName + ` TEXT,
	` + ColumnHidden + ` SHORT,
	` + ColumnType + ` BLOB,
	` + ColumnHash + ` BLOB,
	` + ColumnIV + ` BLOB
)`

const selectColumns = ColumnUUID + ", " + ColumnName + ", " + ColumnHidden + ", " +
	ColumnType + ", " + ColumnHash + ", " + ColumnIV

// Store is the durable volume table keyed by uuid. Every mutation is
// committed before the call returns.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("registry: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("registry: failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}

	// Single connection: one writer per process, and migrations rely on
	// PRAGMA and transaction state staying on the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to configure database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: failed to open database: %w", err)
	}
	if err := os.Chmod(path, FileMode); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("registry: failed to set database permissions: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// raw exposes the database for structural changes. Only the migrator uses it.
func (s *Store) raw() *sql.DB {
	return s.db
}

// Insert stores rec. It fails with ErrDuplicateKey when rec.UUID is taken.
func (s *Store) Insert(rec *volume.Record) error {
	return insertRecord(s.db, rec)
}

func insertRecord(e execer, rec *volume.Record) error {
	_, err := e.Exec(
		"INSERT INTO "+TableName+" ("+selectColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		rec.UUID, rec.Name, encodeHidden(rec.Hidden), encodeType(rec.Type),
		nullableBlob(rec.VerificationHash), nullableBlob(rec.IV),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, rec.UUID)
		}
		return fmt.Errorf("registry: failed to insert volume: %w", err)
	}
	return nil
}

// Values is a partial set of column updates keyed by column name.
// Accepted Go types: string (uuid, name), bool (hidden), volume.Type (type)
// and []byte (hash, iv; nil stores NULL).
type Values map[string]any

// Update applies values to the row with the given uuid and reports whether
// a row matched.
func (s *Store) Update(uuid string, values Values) (bool, error) {
	if len(values) == 0 {
		return false, fmt.Errorf("registry: empty update")
	}

	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		v, err := encodeColumn(col, values[col])
		if err != nil {
			return false, err
		}
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	args = append(args, uuid)

	res, err := s.db.Exec(
		"UPDATE "+TableName+" SET "+strings.Join(sets, ", ")+" WHERE "+ColumnUUID+" = ?",
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("registry: failed to update volume: %w", err)
	}
	return affected(res)
}

// Delete removes the row with the given uuid and reports whether one existed.
func (s *Store) Delete(uuid string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM "+TableName+" WHERE "+ColumnUUID+" = ?", uuid)
	if err != nil {
		return false, fmt.Errorf("registry: failed to delete volume: %w", err)
	}
	return affected(res)
}

// Predicate selects rows for Query.
type Predicate struct {
	clause string
	args   []any
}

// All matches every row.
func All() Predicate {
	return Predicate{clause: "1 = 1"}
}

// ByUUID matches the row with the given identity.
func ByUUID(uuid string) Predicate {
	return Predicate{clause: ColumnUUID + " = ?", args: []any{uuid}}
}

// ByNameHidden matches rows with the given name and placement.
func ByNameHidden(name string, hidden bool) Predicate {
	return Predicate{
		clause: ColumnName + " = ? AND " + ColumnHidden + " = ?",
		args:   []any{name, encodeHidden(hidden)},
	}
}

// ByHidden matches rows with the given placement.
func ByHidden(hidden bool) Predicate {
	return Predicate{clause: ColumnHidden + " = ?", args: []any{encodeHidden(hidden)}}
}

// And combines two predicates.
func (p Predicate) And(o Predicate) Predicate {
	args := append(append([]any{}, p.args...), o.args...)
	return Predicate{clause: "(" + p.clause + ") AND (" + o.clause + ")", args: args}
}

// readableType selects rows with a one byte type. Every other row is
// awaiting the column-shift repair that runs at open.
var (
	readableType = ColumnType + " IS NOT NULL AND length(" + ColumnType + ") = 1"
	corruptType  = ColumnType + " IS NULL OR length(" + ColumnType + ") != 1"
)

// Query returns the records matching p. The sequence is lazy and may be
// ranged over again to re-run the query. Do not write to the store while
// ranging: the store holds a single connection.
//
// Rows without a readable type are skipped.
func (s *Store) Query(p Predicate) iter.Seq2[volume.Record, error] {
	return func(yield func(volume.Record, error) bool) {
		rows, err := s.db.Query(
			"SELECT "+selectColumns+" FROM "+TableName+
				" WHERE "+readableType+" AND ("+p.clause+")",
			p.args...,
		)
		if err != nil {
			yield(volume.Record{}, fmt.Errorf("registry: failed to query volumes: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := scanRecord(rows)
			if !yield(rec, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(volume.Record{}, fmt.Errorf("registry: failed to read volumes: %w", err))
		}
	}
}

// ScanAll returns every readable record.
func (s *Store) ScanAll() iter.Seq2[volume.Record, error] {
	return s.Query(All())
}

// collect drains seq.
func collect(seq iter.Seq2[volume.Record, error]) ([]volume.Record, error) {
	var out []volume.Record
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (volume.Record, error) {
	var (
		id, name sql.NullString
		hidden   sql.NullInt64
		typ      []byte
		hash, iv []byte
	)
	if err := rows.Scan(&id, &name, &hidden, &typ, &hash, &iv); err != nil {
		return volume.Record{}, fmt.Errorf("registry: failed to scan volume: %w", err)
	}
	if len(typ) != 1 {
		return volume.Record{}, fmt.Errorf("%w: %q has a %d byte type", ErrCorruptRecord, id.String, len(typ))
	}
	return volume.Record{
		UUID:             id.String,
		Name:             name.String,
		Hidden:           hidden.Int64 == 1,
		Type:             volume.Type(int8(typ[0])),
		VerificationHash: hash,
		IV:               iv,
	}, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("registry: failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func encodeColumn(col string, v any) (any, error) {
	switch col {
	case ColumnUUID, ColumnName:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("registry: column %s expects a string, got %T", col, v)
		}
		return s, nil
	case ColumnHidden:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("registry: column %s expects a bool, got %T", col, v)
		}
		return encodeHidden(b), nil
	case ColumnType:
		t, ok := v.(volume.Type)
		if !ok {
			return nil, fmt.Errorf("registry: column %s expects a volume.Type, got %T", col, v)
		}
		return encodeType(t), nil
	case ColumnHash, ColumnIV:
		if v == nil {
			return nil, nil
		}
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("registry: column %s expects []byte, got %T", col, v)
		}
		return nullableBlob(b), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, col)
	}
}

func encodeHidden(hidden bool) int64 {
	if hidden {
		return 1
	}
	return 0
}

func encodeType(t volume.Type) []byte {
	return []byte{t.Byte()}
}

func nullableBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}
