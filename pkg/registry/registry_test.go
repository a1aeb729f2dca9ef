package registry

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/forest6511/volumectl/pkg/volume"
)

// testRegistry opens a fresh registry in a temporary directory
func testRegistry(t *testing.T) (r *Registry, root string) {
	t.Helper()
	tmpDir := t.TempDir()
	root = filepath.Join(tmpDir, "files")

	r, err := Open(Options{
		Path: filepath.Join(tmpDir, "databases", "volumes.db"),
		Root: root,
	})
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, root
}

func newRecord(name string, hidden bool) *volume.Record {
	return &volume.Record{
		UUID:   volume.NewUUID(),
		Name:   name,
		Hidden: hidden,
		Type:   volume.TypeGocryptfs,
	}
}

func mustRegister(t *testing.T, r *Registry, rec *volume.Record) {
	t.Helper()
	ok, err := r.Register(rec)
	if err != nil {
		t.Fatalf("Register(%q) failed: %v", rec.Name, err)
	}
	if !ok {
		t.Fatalf("Register(%q) returned false", rec.Name)
	}
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := testRegistry(t)

	rec := &volume.Record{
		UUID:             volume.NewUUID(),
		Name:             "vault",
		Hidden:           true,
		Type:             volume.TypeCryfs,
		VerificationHash: []byte{0xde, 0xad, 0xbe, 0xef},
		IV:               []byte{0x01, 0x02, 0x03},
	}
	mustRegister(t, r, rec)

	got, err := r.Get("vault", true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for a registered volume")
	}
	if !got.Equal(rec) {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}

	// Placement is part of the identity
	other, err := r.Get("vault", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if other != nil {
		t.Errorf("expected no visible volume, got %+v", other)
	}
}

func TestRegisterDuplicateScenario(t *testing.T) {
	r, _ := testRegistry(t)

	a := newRecord("vault", false)
	mustRegister(t, r, a)

	b := newRecord("vault", false)
	ok, err := r.Register(b)
	if err != nil {
		t.Fatalf("Register(B) failed: %v", err)
	}
	if ok {
		t.Error("second Register with the same (name, hidden) should return false")
	}

	list, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 volume, got %d", len(list))
	}
	if list[0].UUID != a.UUID {
		t.Errorf("stored uuid = %s, want %s", list[0].UUID, a.UUID)
	}

	c := newRecord("vault", true)
	mustRegister(t, r, c)

	list, err = r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 volumes, got %d", len(list))
	}
}

func TestRegisterValidation(t *testing.T) {
	r, _ := testRegistry(t)

	tests := []struct {
		name    string
		rec     *volume.Record
		wantErr error
	}{
		{"nil record", nil, ErrInvalidRecord},
		{"missing uuid", &volume.Record{Name: "a", Type: volume.TypeCryfs}, ErrInvalidRecord},
		{"missing name", &volume.Record{UUID: "u", Type: volume.TypeCryfs}, ErrInvalidRecord},
		{"unknown type", &volume.Record{UUID: "u", Name: "a", Type: volume.TypeUnknown}, ErrInvalidRecord},
		{"hash without iv", &volume.Record{UUID: "u", Name: "a", VerificationHash: []byte{1}}, ErrUnpairedHash},
		{"iv without hash", &volume.Record{UUID: "u", Name: "a", IV: []byte{1}}, ErrUnpairedHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := r.Register(tt.rec)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Register() error = %v, want %v", err, tt.wantErr)
			}
			if ok {
				t.Error("Register() should return false on invalid input")
			}
		})
	}
}

func TestRegisterDuplicateUUID(t *testing.T) {
	r, _ := testRegistry(t)

	a := newRecord("one", false)
	mustRegister(t, r, a)

	b := newRecord("two", false)
	b.UUID = a.UUID
	ok, err := r.Register(b)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if ok {
		t.Error("Register should fail on a reused uuid")
	}
}

func TestExists(t *testing.T) {
	r, _ := testRegistry(t)
	mustRegister(t, r, newRecord("vault", true))

	exists, err := r.Exists("vault", true)
	if err != nil || !exists {
		t.Errorf("Exists(vault, hidden) = %v, %v", exists, err)
	}
	exists, err = r.Exists("vault", false)
	if err != nil || exists {
		t.Errorf("Exists(vault, visible) = %v, %v", exists, err)
	}
}

func TestVerificationHashLifecycle(t *testing.T) {
	r, _ := testRegistry(t)
	rec := newRecord("vault", false)
	mustRegister(t, r, rec)

	has, err := r.HasVerificationHash(rec)
	if err != nil {
		t.Fatalf("HasVerificationHash failed: %v", err)
	}
	if has {
		t.Fatal("new volume should not have a verification hash")
	}

	rec.VerificationHash = []byte("hash-bytes")
	rec.IV = []byte("iv-bytes")
	ok, err := r.SetVerificationHash(rec)
	if err != nil || !ok {
		t.Fatalf("SetVerificationHash = %v, %v", ok, err)
	}

	has, err = r.HasVerificationHash(rec)
	if err != nil || !has {
		t.Fatalf("HasVerificationHash after set = %v, %v", has, err)
	}
	got, err := r.Get("vault", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got.VerificationHash, rec.VerificationHash) || !bytes.Equal(got.IV, rec.IV) {
		t.Errorf("stored hash/iv = %q/%q", got.VerificationHash, got.IV)
	}

	ok, err = r.ClearVerificationHash(rec)
	if err != nil || !ok {
		t.Fatalf("ClearVerificationHash = %v, %v", ok, err)
	}
	has, err = r.HasVerificationHash(rec)
	if err != nil || has {
		t.Fatalf("HasVerificationHash after clear = %v, %v", has, err)
	}
	got, err = r.Get("vault", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.VerificationHash != nil || got.IV != nil {
		t.Errorf("hash and iv should both be nil, got %v/%v", got.VerificationHash, got.IV)
	}
}

func TestSetVerificationHashRequiresPair(t *testing.T) {
	r, _ := testRegistry(t)
	rec := newRecord("vault", false)
	mustRegister(t, r, rec)

	rec.VerificationHash = []byte("hash")
	if _, err := r.SetVerificationHash(rec); !errors.Is(err, ErrUnpairedHash) {
		t.Errorf("expected ErrUnpairedHash, got %v", err)
	}
	has, err := r.HasVerificationHash(rec)
	if err != nil || has {
		t.Errorf("hash must not be stored without iv: %v, %v", has, err)
	}
}

func TestRenameScenario(t *testing.T) {
	r, _ := testRegistry(t)
	a := newRecord("vault", false)
	mustRegister(t, r, a)

	ok, err := r.Rename(a, "vault2")
	if err != nil || !ok {
		t.Fatalf("Rename = %v, %v", ok, err)
	}

	got, err := r.Get("vault2", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.UUID != a.UUID || got.Name != "vault2" {
		t.Errorf("Get(vault2) = %+v", got)
	}

	old, err := r.Get("vault", false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if old != nil {
		t.Errorf("old name should be gone, got %+v", old)
	}
	if a.Name != "vault" {
		t.Errorf("Rename must not modify the caller's record")
	}
}

func TestRenameAndRemoveMissing(t *testing.T) {
	r, _ := testRegistry(t)
	ghost := newRecord("ghost", false)

	if ok, err := r.Rename(ghost, "other"); err != nil || ok {
		t.Errorf("Rename(missing) = %v, %v", ok, err)
	}
	if ok, err := r.Remove(ghost); err != nil || ok {
		t.Errorf("Remove(missing) = %v, %v", ok, err)
	}
	if ok, err := r.SetVerificationHash(&volume.Record{UUID: ghost.UUID, VerificationHash: []byte{1}, IV: []byte{2}}); err != nil || ok {
		t.Errorf("SetVerificationHash(missing) = %v, %v", ok, err)
	}
}

func TestRecordArgumentsValidated(t *testing.T) {
	r, _ := testRegistry(t)

	ops := map[string]func(*volume.Record) (bool, error){
		"HasVerificationHash":   r.HasVerificationHash,
		"SetVerificationHash":   r.SetVerificationHash,
		"ClearVerificationHash": r.ClearVerificationHash,
		"Remove":                r.Remove,
		"Rename": func(rec *volume.Record) (bool, error) {
			return r.Rename(rec, "other")
		},
	}
	records := map[string]*volume.Record{
		"nil":        nil,
		"empty uuid": {Name: "vault", VerificationHash: []byte{1}, IV: []byte{2}},
	}

	for opName, op := range ops {
		for recName, rec := range records {
			t.Run(opName+"/"+recName, func(t *testing.T) {
				ok, err := op(rec)
				if ok || !errors.Is(err, ErrInvalidRecord) {
					t.Errorf("%s(%s) = %v, %v, want ErrInvalidRecord", opName, recName, ok, err)
				}
			})
		}
	}
}

func TestReportReturnsCopy(t *testing.T) {
	r := &Registry{report: Report{
		MovedHidden:     []string{"vault"},
		RelocatedStrays: []string{"stray"},
		DuplicateNames:  []string{"twin"},
	}}

	rep := r.Report()
	rep.MovedHidden[0] = "changed"
	rep.RelocatedStrays[0] = "changed"
	rep.DuplicateNames[0] = "changed"

	again := r.Report()
	if again.MovedHidden[0] != "vault" || again.RelocatedStrays[0] != "stray" || again.DuplicateNames[0] != "twin" {
		t.Errorf("Report() shares slices with the registry: %+v", again)
	}
}

func TestRemove(t *testing.T) {
	r, _ := testRegistry(t)
	a := newRecord("a", false)
	b := newRecord("b", true)
	mustRegister(t, r, a)
	mustRegister(t, r, b)

	ok, err := r.Remove(a)
	if err != nil || !ok {
		t.Fatalf("Remove = %v, %v", ok, err)
	}

	list, err := r.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].UUID != b.UUID {
		t.Errorf("List after remove = %+v", list)
	}
}

func TestClosedRegistry(t *testing.T) {
	r, _ := testRegistry(t)
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := r.Get("a", false); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after close: %v", err)
	}
	if _, err := r.List(); !errors.Is(err, ErrClosed) {
		t.Errorf("List after close: %v", err)
	}
	if _, err := r.Register(newRecord("a", false)); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close should be a no-op: %v", err)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	tmpDir := t.TempDir()
	opts := Options{
		Path: filepath.Join(tmpDir, "volumes.db"),
		Root: filepath.Join(tmpDir, "files"),
	}

	r, err := Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec := newRecord("vault", true)
	mustRegister(t, r, rec)
	r.Close()

	r, err = Open(opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer r.Close()

	if r.Report().Upgraded() || r.Report().Created {
		t.Errorf("reopen should not create or upgrade: %+v", r.Report())
	}
	got, err := r.Get("vault", true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Equal(rec) {
		t.Errorf("Get() = %+v, want %+v", got, rec)
	}
}
