package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/forest6511/volumectl/pkg/volume"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "volumes.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.raw().Exec(createTableSQL); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	return s
}

func TestOpenStorePermissions(t *testing.T) {
	s := testStore(t)

	info, err := os.Stat(s.Path())
	if err != nil {
		t.Fatalf("failed to stat database: %v", err)
	}
	if perm := info.Mode().Perm(); perm != FileMode {
		t.Errorf("database mode = %o, want %o", perm, FileMode)
	}
}

func TestOpenStoreEmptyPath(t *testing.T) {
	if _, err := OpenStore(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestStoreInsertDuplicateKey(t *testing.T) {
	s := testStore(t)
	rec := &volume.Record{UUID: "u1", Name: "a", Type: volume.TypeGocryptfs}

	if err := s.Insert(rec); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Insert(rec); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestStoreUpdate(t *testing.T) {
	s := testStore(t)
	if err := s.Insert(&volume.Record{UUID: "u1", Name: "a", Type: volume.TypeGocryptfs}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	tests := []struct {
		name    string
		uuid    string
		values  Values
		want    bool
		wantErr error
	}{
		{"rename", "u1", Values{ColumnName: "b"}, true, nil},
		{"several columns", "u1", Values{ColumnHidden: true, ColumnType: volume.TypeCryfs}, true, nil},
		{"no match", "missing", Values{ColumnName: "c"}, false, nil},
		{"unknown column", "u1", Values{"size": 10}, false, ErrUnknownColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Update(tt.uuid, tt.values)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Update() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Update() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Update() = %v, want %v", got, tt.want)
			}
		})
	}

	recs, err := collect(s.Query(ByUUID("u1")))
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	want := volume.Record{UUID: "u1", Name: "b", Hidden: true, Type: volume.TypeCryfs}
	if !recs[0].Equal(&want) {
		t.Errorf("record = %+v, want %+v", recs[0], want)
	}
}

func TestStoreUpdateWrongValueType(t *testing.T) {
	s := testStore(t)
	if _, err := s.Update("u1", Values{ColumnHidden: "yes"}); err == nil {
		t.Error("expected error for a string hidden value")
	}
	if _, err := s.Update("u1", Values{}); err == nil {
		t.Error("expected error for an empty update")
	}
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	if err := s.Insert(&volume.Record{UUID: "u1", Name: "a"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	ok, err := s.Delete("u1")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = s.Delete("u1")
	if err != nil || ok {
		t.Errorf("second Delete = %v, %v", ok, err)
	}
}

func TestStoreQuery(t *testing.T) {
	s := testStore(t)
	for _, rec := range []volume.Record{
		{UUID: "u1", Name: "a", Hidden: false},
		{UUID: "u2", Name: "b", Hidden: true},
		{UUID: "u3", Name: "c", Hidden: true, Type: volume.TypeCryfs},
	} {
		if err := s.Insert(&rec); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	tests := []struct {
		name string
		p    Predicate
		want int
	}{
		{"all", All(), 3},
		{"hidden", ByHidden(true), 2},
		{"visible", ByHidden(false), 1},
		{"name and placement", ByNameHidden("b", true), 1},
		{"wrong placement", ByNameHidden("b", false), 0},
		{"combined", ByHidden(true).And(ByUUID("u3")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := s.Query(tt.p)
			// Ranging twice re-runs the query
			for range 2 {
				got, err := collect(seq)
				if err != nil {
					t.Fatalf("Query failed: %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("got %d records, want %d", len(got), tt.want)
				}
			}
		})
	}
}

func TestStoreQueryStopsEarly(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"u1", "u2", "u3"} {
		if err := s.Insert(&volume.Record{UUID: id, Name: id}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	n := 0
	for _, err := range s.ScanAll() {
		if err != nil {
			t.Fatalf("ScanAll failed: %v", err)
		}
		n++
		break
	}
	if n != 1 {
		t.Errorf("expected to stop after one record, got %d", n)
	}

	// The connection is released once ranging stops
	if err := s.Insert(&volume.Record{UUID: "u4", Name: "d"}); err != nil {
		t.Errorf("Insert after early break failed: %v", err)
	}
}

func TestStoreCorruptType(t *testing.T) {
	s := testStore(t)
	if _, err := s.raw().Exec(`INSERT INTO Volumes (uuid, name, hidden, type) VALUES ('u1', 'a', 0, X'0001')`); err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}

	_, err := collect(s.ScanAll())
	if !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}
