package backup

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/forest6511/volumectl/pkg/registry"
	"github.com/forest6511/volumectl/pkg/volume"
)

var testPassphrase = []byte("backup-passphrase")

func testRegistry(t *testing.T, records ...volume.Record) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	r, err := registry.Open(registry.Options{
		Path: filepath.Join(dir, "volumes.db"),
		Root: filepath.Join(dir, "files"),
	})
	if err != nil {
		t.Fatalf("failed to open registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	for i := range records {
		if ok, err := r.Register(&records[i]); err != nil || !ok {
			t.Fatalf("Register(%s) = %v, %v", records[i].Name, ok, err)
		}
	}
	return r
}

func sampleRecords() []volume.Record {
	return []volume.Record{
		{UUID: "uuid-vault", Name: "vault", Hidden: true, Type: volume.TypeCryfs,
			VerificationHash: []byte{1, 2, 3}, IV: bytes.Repeat([]byte{9}, 28)},
		{UUID: "uuid-photos", Name: "/sdcard/photos", Type: volume.TypeGocryptfs},
	}
}

func writeBackup(t *testing.T, src Source) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Backup(src, BackupOptions{Output: &buf, Passphrase: testPassphrase, SchemaVersion: registry.CurrentSchemaVersion}); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	return buf.Bytes()
}

func TestBackupRoundTrip(t *testing.T) {
	want := sampleRecords()
	data := writeBackup(t, testRegistry(t, sampleRecords()...))

	if bytes.Contains(data, []byte("vault")) {
		t.Error("backup contains a plaintext volume name")
	}

	header, got, err := Read(bytes.NewReader(data), testPassphrase)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if header.VolumeCount != 2 || header.SchemaVersion != registry.CurrentSchemaVersion {
		t.Errorf("header = %+v", header)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d", len(got), len(want))
	}

	byUUID := make(map[string]volume.Record)
	for _, rec := range got {
		byUUID[rec.UUID] = rec
	}
	for _, w := range want {
		g, ok := byUUID[w.UUID]
		if !ok {
			t.Errorf("record %s missing", w.UUID)
			continue
		}
		if !g.Equal(&w) || !bytes.Equal(g.VerificationHash, w.VerificationHash) || !bytes.Equal(g.IV, w.IV) {
			t.Errorf("record %s = %+v, want %+v", w.UUID, g, w)
		}
	}
}

func TestReadRejects(t *testing.T) {
	data := writeBackup(t, testRegistry(t, sampleRecords()...))

	flipped := bytes.Clone(data)
	flipped[len(flipped)-HMACLength-1] ^= 0xff

	tests := []struct {
		name       string
		data       []byte
		passphrase []byte
		wantErr    error
	}{
		{"wrong passphrase", data, []byte("nope"), ErrIntegrityFailed},
		{"empty passphrase", data, nil, ErrEmptyPassphrase},
		{"modified ciphertext", flipped, testPassphrase, ErrIntegrityFailed},
		{"truncated", data[:len(data)-5], testPassphrase, ErrTruncated},
		{"bad magic", append([]byte("NOTABKP!"), data[8:]...), testPassphrase, ErrInvalidMagic},
		{"empty file", nil, testPassphrase, ErrInvalidMagic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Read(bytes.NewReader(tt.data), tt.passphrase)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Read() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRestoreIntoEmptyRegistry(t *testing.T) {
	dst := testRegistry(t)

	result, err := Restore(dst, sampleRecords(), RestoreOptions{})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if result.Restored != 2 || result.Skipped != 0 {
		t.Errorf("result = %+v", result)
	}

	rec, err := dst.Get("vault", true)
	if err != nil || rec == nil {
		t.Fatalf("Get(vault) = %v, %v", rec, err)
	}
	if rec.UUID != "uuid-vault" || !rec.HasVerificationHash() {
		t.Errorf("restored record = %+v", rec)
	}
}

func TestRestoreConflicts(t *testing.T) {
	tests := []struct {
		name        string
		opts        RestoreOptions
		wantErr     error
		wantResult  RestoreResult
		wantVaultID string
		wantCount   int
	}{
		{
			name:        "error",
			opts:        RestoreOptions{OnConflict: ConflictError},
			wantErr:     ErrConflict,
			wantVaultID: "local-vault",
			wantCount:   1,
		},
		{
			name:        "skip",
			opts:        RestoreOptions{OnConflict: ConflictSkip},
			wantResult:  RestoreResult{Restored: 1, Skipped: 1},
			wantVaultID: "local-vault",
			wantCount:   2,
		},
		{
			name:        "overwrite",
			opts:        RestoreOptions{OnConflict: ConflictOverwrite},
			wantResult:  RestoreResult{Restored: 1, Overwritten: 1},
			wantVaultID: "uuid-vault",
			wantCount:   2,
		},
		{
			name:        "overwrite dry run",
			opts:        RestoreOptions{OnConflict: ConflictOverwrite, DryRun: true},
			wantResult:  RestoreResult{Restored: 1, Overwritten: 1, DryRun: true},
			wantVaultID: "local-vault",
			wantCount:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := testRegistry(t, volume.Record{UUID: "local-vault", Name: "vault", Hidden: true, Type: volume.TypeGocryptfs})

			result, err := Restore(dst, sampleRecords(), tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Restore() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && *result != tt.wantResult {
				t.Errorf("result = %+v, want %+v", *result, tt.wantResult)
			}

			rec, err := dst.Get("vault", true)
			if err != nil || rec == nil {
				t.Fatalf("Get(vault) = %v, %v", rec, err)
			}
			if rec.UUID != tt.wantVaultID {
				t.Errorf("vault uuid = %s, want %s", rec.UUID, tt.wantVaultID)
			}
			all, err := dst.List()
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != tt.wantCount {
				t.Errorf("registry has %d volumes, want %d", len(all), tt.wantCount)
			}
		})
	}
}

func TestRestoreUUIDCollision(t *testing.T) {
	// The volume was renamed after the backup was taken
	renamed := volume.Record{UUID: "uuid-photos", Name: "/sdcard/pictures", Type: volume.TypeGocryptfs}

	t.Run("skip", func(t *testing.T) {
		dst := testRegistry(t, renamed)
		result, err := Restore(dst, sampleRecords(), RestoreOptions{OnConflict: ConflictSkip})
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if result.Restored != 1 || result.Skipped != 1 {
			t.Errorf("result = %+v", result)
		}
		if rec, _ := dst.Get("/sdcard/photos", false); rec != nil {
			t.Error("colliding record was registered")
		}
	})

	t.Run("error", func(t *testing.T) {
		dst := testRegistry(t, renamed)
		_, err := Restore(dst, sampleRecords()[1:], RestoreOptions{OnConflict: ConflictError})
		if !errors.Is(err, ErrConflict) {
			t.Errorf("Restore() error = %v, want ErrConflict", err)
		}
	})

	t.Run("error writes nothing", func(t *testing.T) {
		dst := testRegistry(t, renamed)
		// vault comes first and has no conflict of its own
		_, err := Restore(dst, sampleRecords(), RestoreOptions{OnConflict: ConflictError})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("Restore() error = %v, want ErrConflict", err)
		}
		if rec, _ := dst.Get("vault", true); rec != nil {
			t.Error("vault was registered by an aborted restore")
		}
		all, err := dst.List()
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 1 {
			t.Errorf("registry has %d volumes, want 1", len(all))
		}
	})

	t.Run("repeated uuid in backup", func(t *testing.T) {
		dst := testRegistry(t)
		records := append(sampleRecords(), volume.Record{UUID: "uuid-vault", Name: "copy", Hidden: true, Type: volume.TypeCryfs})

		if _, err := Restore(dst, records, RestoreOptions{OnConflict: ConflictError}); !errors.Is(err, ErrConflict) {
			t.Fatalf("Restore() error = %v, want ErrConflict", err)
		}
		if all, _ := dst.List(); len(all) != 0 {
			t.Errorf("aborted restore registered %d volumes", len(all))
		}

		result, err := Restore(dst, records, RestoreOptions{OnConflict: ConflictSkip})
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if result.Restored != 2 || result.Skipped != 1 {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("overwrite keeps the replaced volume", func(t *testing.T) {
		dst := testRegistry(t, renamed, volume.Record{UUID: "other", Name: "/sdcard/photos", Type: volume.TypeCryfs})
		result, err := Restore(dst, sampleRecords()[1:], RestoreOptions{OnConflict: ConflictOverwrite})
		if err != nil {
			t.Fatalf("Restore failed: %v", err)
		}
		if result.Skipped != 1 || result.Overwritten != 0 {
			t.Errorf("result = %+v", result)
		}
		rec, err := dst.Get("/sdcard/photos", false)
		if err != nil || rec == nil || rec.UUID != "other" {
			t.Errorf("replaced volume not reinstated: %+v, %v", rec, err)
		}
	})
}

func TestParseConflictMode(t *testing.T) {
	tests := []struct {
		in      string
		want    ConflictMode
		wantErr bool
	}{
		{"", ConflictError, false},
		{"error", ConflictError, false},
		{"skip", ConflictSkip, false},
		{"overwrite", ConflictOverwrite, false},
		{"merge", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseConflictMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseConflictMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}
