package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/forest6511/volumectl/pkg/volume"
)

// Schema version constants
const (
	// SchemaVersion3 is the oldest supported layout: name-keyed rows, no type
	SchemaVersion3 = 3
	// SchemaVersion4 adds the type column; hidden volumes move to volumes/
	SchemaVersion4 = 4
	// SchemaVersion5 has no structural change
	SchemaVersion5 = 5
	// SchemaVersion6 makes uuid the primary key
	SchemaVersion6 = 6
	// CurrentSchemaVersion is the current schema version
	CurrentSchemaVersion = SchemaVersion6
)

const legacyTableName = TableName + "_old"

// Report describes what the last open did to the database and root.
type Report struct {
	FromVersion int
	ToVersion   int
	Created     bool

	// RepairedRows counts column-shifted rows rewritten at open.
	RepairedRows int
	// MovedHidden lists registered hidden volumes moved into volumes/.
	MovedHidden []string
	// RelocatedStrays lists unregistered containers moved into volumes/.
	RelocatedStrays []string
	// DuplicateNames lists legacy names shared by several rows during the
	// uuid backfill. Each extra row received its own identifier.
	DuplicateNames []string
}

// Upgraded reports whether a version upgrade ran.
func (r Report) Upgraded() bool {
	return !r.Created && r.FromVersion < r.ToVersion
}

type migrator struct {
	db     *sql.DB
	root   string
	prober volume.Prober
	newID  func() string
	log    *slog.Logger
	report *Report
}

// migration is one ordered upgrade step. A step runs when the stored version
// is below Version, or on every upgrade pass when EveryUpgrade is set.
type migration struct {
	Version      int
	Description  string
	EveryUpgrade bool
	Up           func(m *migrator, from int) error
}

var migrations = []migration{
	{
		Version:     SchemaVersion4,
		Description: "add volume type column",
		Up:          (*migrator).migrateToV4,
	},
	{
		Version:      SchemaVersion4,
		Description:  "relocate unregistered volumes",
		EveryUpgrade: true,
		Up:           (*migrator).relocateUnregistered,
	},
	{
		Version:     SchemaVersion6,
		Description: "introduce uuid primary key",
		Up:          (*migrator).migrateToV6,
	},
}

// getSchemaVersion returns the version stamped in the database header.
// Zero means the database was never initialized.
func getSchemaVersion(q rowQueryer) (int, error) {
	var version int
	if err := q.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("registry: failed to read schema version: %w", err)
	}
	return version, nil
}

// setSchemaVersion stamps version in the database header.
func setSchemaVersion(e execer, version int) error {
	if _, err := e.Exec("PRAGMA user_version = " + strconv.Itoa(version)); err != nil {
		return fmt.Errorf("registry: failed to set schema version: %w", err)
	}
	return nil
}

// migrateSchema brings the database to CurrentSchemaVersion, then repairs
// column-shifted rows. Only structural failures are returned.
func (m *migrator) migrateSchema() error {
	version, err := getSchemaVersion(m.db)
	if err != nil {
		return err
	}
	m.report.FromVersion = version
	m.report.ToVersion = version

	switch {
	case version == 0:
		if err := m.create(); err != nil {
			return err
		}
	case version < CurrentSchemaVersion:
		if err := m.upgrade(version); err != nil {
			return err
		}
	case version > CurrentSchemaVersion:
		return fmt.Errorf("%w: version %d, supported %d", ErrSchemaTooNew, version, CurrentSchemaVersion)
	}

	m.repairShiftedRows()
	return nil
}

func (m *migrator) create() error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrMigrationFailed, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(createTableSQL); err != nil {
		return fmt.Errorf("%w: failed to create table: %v", ErrMigrationFailed, err)
	}
	if err := setSchemaVersion(tx, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", ErrMigrationFailed, err)
	}

	if err := os.Mkdir(volume.PathJoin(m.root, volume.VolumesDirectory), DirMode); err != nil && !os.IsExist(err) {
		m.log.Warn("failed to create volumes directory", "error", err)
	}

	m.report.Created = true
	m.report.ToVersion = CurrentSchemaVersion
	m.log.Info("created volume database", "version", CurrentSchemaVersion)
	return nil
}

func (m *migrator) upgrade(from int) error {
	m.log.Info("upgrading volume database", "from", from, "to", CurrentSchemaVersion)

	for _, step := range migrations {
		if from >= step.Version && !step.EveryUpgrade {
			continue
		}
		m.log.Debug("applying migration", "step", step.Description, "version", step.Version)
		if err := step.Up(m, from); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMigrationFailed, step.Description, err)
		}
	}

	if err := setSchemaVersion(m.db, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	m.report.ToVersion = CurrentSchemaVersion
	return nil
}

// migrateToV4 adds the type column and stamps every existing volume with
// the legacy format, then moves registered hidden volumes into volumes/.
func (m *migrator) migrateToV4(int) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, TableName)
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}
	if !columns[ColumnType] {
		if _, err := tx.Exec("ALTER TABLE " + TableName + " ADD COLUMN " + ColumnType + " BLOB"); err != nil {
			return fmt.Errorf("failed to add type column: %w", err)
		}
	}
	if _, err := tx.Exec("UPDATE "+TableName+" SET "+ColumnType+" = ?", encodeType(volume.TypeLegacy)); err != nil {
		return fmt.Errorf("failed to set volume types: %w", err)
	}
	if err := setSchemaVersion(tx, SchemaVersion4); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	m.relocateRegisteredHidden()
	return nil
}

// relocateRegisteredHidden moves hidden volumes from the root into the
// volumes directory. It only runs when it can create that directory, so a
// second pass after a partial run leaves the work to relocateUnregistered.
func (m *migrator) relocateRegisteredHidden() {
	dir := volume.PathJoin(m.root, volume.VolumesDirectory)
	if err := os.Mkdir(dir, DirMode); err != nil {
		m.log.Error("volumes directory creation failed while upgrading", "path", dir, "error", err)
		return
	}

	names, err := hiddenVolumeNames(m.db)
	if err != nil {
		m.log.Error("failed to list hidden volumes", "error", err)
		return
	}
	for _, name := range names {
		src := volume.PathJoin(m.root, name)
		dst := volume.FullPath(name, true, m.root)
		if err := volume.MoveNoReplace(src, dst); err != nil {
			m.log.Error("failed to move hidden volume", "volume", name, "error", err)
			continue
		}
		m.report.MovedHidden = append(m.report.MovedHidden, name)
	}
}

func hiddenVolumeNames(q queryer) ([]string, error) {
	rows, err := q.Query("SELECT "+ColumnName+" FROM "+TableName+" WHERE "+ColumnHidden+" = ?", encodeHidden(true))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name.Valid && name.String != "" {
			names = append(names, name.String)
		}
	}
	return names, rows.Err()
}

// relocateUnregistered moves any recognized volume container sitting
// directly in the root into the volumes directory. It reconciles moves that
// were applied without their registry update, and the reverse.
func (m *migrator) relocateUnregistered(int) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.log.Warn("failed to scan root for unregistered volumes", "path", m.root, "error", err)
		return nil
	}

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || name == volume.VolumesDirectory || name == volume.CryfsLocalStateDir {
			continue
		}
		path := volume.PathJoin(m.root, name)
		t, err := m.prober.ProbeType(path)
		if err != nil || !t.Valid() {
			if err != nil && !errors.Is(err, volume.ErrNotRecognized) {
				m.log.Warn("failed to probe directory", "path", path, "error", err)
			}
			continue
		}
		if err := volume.MoveNoReplace(path, volume.FullPath(name, true, m.root)); err != nil {
			m.log.Error("failed to move unregistered volume", "volume", name, "error", err)
			continue
		}
		m.log.Info("relocated unregistered volume", "volume", name, "type", t.String())
		m.report.RelocatedStrays = append(m.report.RelocatedStrays, name)
	}
	return nil
}

// legacyRow carries the non-identity columns of a pre-v6 row unchanged.
type legacyRow struct {
	name                  sql.NullString
	hidden, typ, hash, iv any
}

// migrateToV6 replaces name-based identity with a generated uuid primary key.
// All statements run in one transaction, so a failure leaves the old table
// untouched.
func (m *migrator) migrateToV6(int) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	columns, err := getTableColumns(tx, TableName)
	if err != nil {
		return fmt.Errorf("failed to get table columns: %w", err)
	}
	if len(columns) == 0 {
		// No table at all, nothing to carry over
		if _, err := tx.Exec(createTableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
		return commitVersion(tx, SchemaVersion6)
	}

	rows, err := readLegacyRows(tx, columns)
	if err != nil {
		return fmt.Errorf("failed to read legacy volumes: %w", err)
	}

	if len(rows) == 0 {
		if _, err := tx.Exec("DROP TABLE " + TableName); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
		if _, err := tx.Exec(createTableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
		return commitVersion(tx, SchemaVersion6)
	}

	if _, err := tx.Exec("ALTER TABLE " + TableName + " RENAME TO " + legacyTableName); err != nil {
		return fmt.Errorf("failed to rename table: %w", err)
	}
	if _, err := tx.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	// One fresh identifier per name. A name shared by several legacy rows
	// is reported and each extra row gets its own identifier, so no row is
	// dropped or duplicated.
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		id := m.newID()
		name := row.name.String
		if seen[name] && !slices.Contains(m.report.DuplicateNames, name) {
			m.report.DuplicateNames = append(m.report.DuplicateNames, name)
			m.log.Warn("legacy volumes share a name, assigning separate identifiers", "volume", name)
		}
		seen[name] = true

		_, err := tx.Exec(
			"INSERT INTO "+TableName+" ("+selectColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			id, row.name, row.hidden, row.typ, row.hash, row.iv,
		)
		if err != nil {
			return fmt.Errorf("failed to copy volume %q: %w", row.name.String, err)
		}
	}

	if _, err := tx.Exec("DROP TABLE " + legacyTableName); err != nil {
		return fmt.Errorf("failed to drop legacy table: %w", err)
	}
	return commitVersion(tx, SchemaVersion6)
}

func readLegacyRows(q queryer, columns map[string]bool) ([]legacyRow, error) {
	expr := func(col string) string {
		if columns[col] {
			return col
		}
		return "NULL"
	}

	rows, err := q.Query("SELECT " + expr(ColumnName) + ", " + expr(ColumnHidden) + ", " +
		expr(ColumnType) + ", " + expr(ColumnHash) + ", " + expr(ColumnIV) +
		" FROM " + TableName + " ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.name, &r.hidden, &r.typ, &r.hash, &r.iv); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func commitVersion(tx *sql.Tx, version int) error {
	if err := setSchemaVersion(tx, version); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// shiftedRow is a row written one column to the left by a historical bug.
// Each field names the physical column it was found in.
type shiftedRow struct {
	uuidCol, nameCol, hiddenCol, typeCol, hashCol, ivCol any
}

// record realigns the row: every field sits one column left of its
// canonical slot, and the uuid wrapped around into the iv column.
func (r shiftedRow) record() (volume.Record, error) {
	rec := volume.Record{
		UUID:             asString(r.ivCol),
		Name:             asString(r.uuidCol),
		Hidden:           asBool(r.nameCol),
		VerificationHash: asBytes(r.typeCol),
		IV:               asBytes(r.hashCol),
	}
	typ := asBytes(r.hiddenCol)
	if rec.UUID == "" || rec.Name == "" || len(typ) == 0 {
		return rec, fmt.Errorf("%w: cannot realign row", ErrCorruptRecord)
	}
	rec.Type = volume.Type(int8(typ[0]))
	if len(rec.VerificationHash) == 0 || len(rec.IV) == 0 {
		rec.VerificationHash, rec.IV = nil, nil
	}
	return rec, nil
}

// repairShiftedRows rewrites rows whose type column is NULL or empty, the
// signature of the column-shift bug. Each delete and insert is best effort.
func (m *migrator) repairShiftedRows() {
	rows, err := readShiftedRows(m.db)
	if err != nil {
		m.log.Error("failed to look for corrupted volumes", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	m.log.Warn("found corrupted volumes", "count", len(rows))

	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			m.log.Error("skipping unrepairable volume", "volume", asString(row.uuidCol), "error", err)
			continue
		}

		res, err := m.db.Exec("DELETE FROM "+TableName+" WHERE "+ColumnIV+" = ?", rec.UUID)
		if err != nil {
			m.log.Error("failed to remove volume", "volume", rec.Name, "error", err)
		} else if n, _ := res.RowsAffected(); n < 1 {
			m.log.Error("failed to remove volume", "volume", rec.Name, "error", "no matching row")
		}

		if err := insertRecord(m.db, &rec); err != nil {
			m.log.Error("failed to insert volume", "volume", rec.Name, "error", err)
			continue
		}
		m.report.RepairedRows++
		m.log.Info("repaired corrupted volume", "volume", rec.Name, "uuid", rec.UUID)
	}
}

func readShiftedRows(q queryer) ([]shiftedRow, error) {
	rows, err := q.Query("SELECT " + selectColumns + " FROM " + TableName + " WHERE " + corruptType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []shiftedRow
	for rows.Next() {
		var r shiftedRow
		if err := rows.Scan(&r.uuidCol, &r.nameCol, &r.hiddenCol, &r.typeCol, &r.hashCol, &r.ivCol); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// getTableColumns returns a map of column names for a table. The map is
// empty when the table does not exist.
func getTableColumns(q queryer, tableName string) (map[string]bool, error) {
	rows, err := q.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}

	return columns, rows.Err()
}

type rowQueryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}

func asBool(v any) bool {
	switch x := v.(type) {
	case int64:
		return x == 1
	case float64:
		return x == 1
	case string:
		return x == "1" || x == "true"
	case []byte:
		return len(x) == 1 && x[0] == 1
	case bool:
		return x
	default:
		return false
	}
}

func asBytes(v any) []byte {
	switch x := v.(type) {
	case []byte:
		return x
	case string:
		return []byte(x)
	case int64:
		return []byte{byte(x)}
	default:
		return nil
	}
}
