// Package audit keeps a tamper-evident journal of registry changes. Each
// event carries an HMAC over its content and the previous event's HMAC, so
// edits, deletions and reordering break the chain.
package audit

import (
	"bufio"
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// Files inside the audit directory
const (
	KeyFileName  = "audit.key"
	metaFileName = "audit.meta"
	logExt       = ".jsonl"
)

// Operation types for audit logging
const (
	OpVolumeRegister  = "volume.register"
	OpVolumeRename    = "volume.rename"
	OpVolumeRemove    = "volume.remove"
	OpHashSet         = "hash.set"
	OpHashClear       = "hash.clear"
	OpHashVerify      = "hash.verify"
	OpRegistryMigrate = "registry.migrate"
	OpRegistryBackup  = "registry.backup"
	OpRegistryRestore = "registry.restore"
)

// SourceCLI marks operations run from the command line.
const SourceCLI = "cli"

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const (
	eventVersion = 1
	genesis      = "genesis"
)

var (
	ErrInvalidKey = errors.New("audit: invalid key file")
	ErrClosed     = errors.New("audit: logger closed")
)

// Event is a single journal record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339, nanosecond precision

	Operation string `json:"op"`
	// Volume is the HMAC of the volume name. Hidden volume names never
	// appear in the journal.
	Volume string `json:"volume,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`

	Source    string `json:"source"`
	SessionID string `json:"session"`

	Result  string            `json:"result"`
	Error   string            `json:"error,omitempty"`
	Context map[string]string `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Chain links an event to its predecessor.
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Entry describes an operation to record.
type Entry struct {
	Operation string
	Source    string
	Result    string
	Volume    string
	Hidden    bool
	Err       error
	Context   map[string]string
}

// Logger appends events to monthly JSONL files in one directory.
type Logger struct {
	dir       string
	hmacKey   []byte
	mu        sync.Mutex
	sequence  int64
	prevHash  string
	sessionID string
	now       func() time.Time
}

// chainState is persisted so a new process continues the chain.
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Open returns a logger for dir, creating the directory and a random
// journal key on first use.
func Open(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: failed to create directory: %w", err)
	}

	secret, err := loadOrCreateKey(filepath.Join(dir, KeyFileName))
	if err != nil {
		return nil, err
	}

	l := &Logger{
		dir:       dir,
		hmacKey:   deriveHMACKey(secret),
		prevHash:  genesis,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
	if err := l.loadChainState(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return l, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) != 32 {
			return nil, ErrInvalidKey
		}
		return secret, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audit: failed to read key: %w", err)
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("audit: failed to generate key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to create key: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(secret); err != nil {
		return nil, fmt.Errorf("audit: failed to write key: %w", err)
	}
	return secret, nil
}

// deriveHMACKey derives the chain key with HKDF-SHA256.
func deriveHMACKey(secret []byte) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte("volumectl-audit-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 can produce far more than 32 bytes
		panic(err)
	}
	return key
}

// Dir returns the audit directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Log appends one event.
func (l *Logger) Log(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrClosed
	}
	if err := checkDiskSpace(l.dir); err != nil {
		return err
	}

	event := Event{
		Version:   eventVersion,
		ID:        newEventID(),
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		Operation: e.Operation,
		Hidden:    e.Hidden,
		Source:    e.Source,
		SessionID: l.sessionID,
		Result:    e.Result,
		Context:   e.Context,
	}
	if e.Volume != "" {
		event.Volume = l.mac([]byte(e.Volume))
	}
	if e.Err != nil {
		event.Error = e.Err.Error()
	}

	event.Chain.Sequence = l.sequence + 1
	event.Chain.PrevHash = l.prevHash
	sum, err := l.eventMAC(&event)
	if err != nil {
		return err
	}
	event.Chain.HMAC = sum

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	l.sequence = event.Chain.Sequence
	l.prevHash = event.Chain.HMAC

	return l.saveChainState()
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, volumeName string, hidden bool) error {
	return l.Log(Entry{Operation: op, Source: source, Result: ResultSuccess, Volume: volumeName, Hidden: hidden})
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, volumeName string, hidden bool, err error) error {
	return l.Log(Entry{Operation: op, Source: source, Result: ResultError, Volume: volumeName, Hidden: hidden, Err: err})
}

// Close drops the key. Later calls to Log return ErrClosed.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.hmacKey)
	l.hmacKey = nil
	return nil
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// eventMAC authenticates every field except the HMAC itself. encoding/json
// sorts map keys, so the encoding is deterministic.
func (l *Logger) eventMAC(event *Event) (string, error) {
	unsigned := *event
	unsigned.Chain.HMAC = ""
	data, err := json.Marshal(&unsigned)
	if err != nil {
		return "", fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	return l.mac(data), nil
}

// writeEvent writes an event to the file of the event's month.
func (l *Logger) writeEvent(event *Event) error {
	f, err := os.OpenFile(l.logFile(event.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

// logFile maps an RFC 3339 timestamp to its YYYY-MM.jsonl file.
func (l *Logger) logFile(timestamp string) string {
	return filepath.Join(l.dir, timestamp[:len("2006-01")]+logExt)
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.dir, metaFileName))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("audit: corrupt chain state: %w", err)
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.dir, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// newEventID returns a time-ordered identifier.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the journal. A journal whose oldest
// months were pruned is anchored at its first remaining event.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrClosed
	}
	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true, RecordsTotal: len(events)}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	expectedPrev := genesis
	var expectedSeq int64 = 1
	if len(events) > 0 && events[0].Chain.Sequence > 1 {
		expectedPrev = events[0].Chain.PrevHash
		expectedSeq = events[0].Chain.Sequence
	}

	for _, event := range events {
		if event.Chain.Sequence != expectedSeq {
			fail("sequence gap at record %s: expected %d, got %d", event.ID, expectedSeq, event.Chain.Sequence)
		}
		if event.Chain.PrevHash != expectedPrev {
			fail("chain broken at record %s", event.ID)
		}
		sum, err := l.eventMAC(&event)
		if err != nil {
			return nil, err
		}
		if !hmac.Equal([]byte(sum), []byte(event.Chain.HMAC)) {
			fail("HMAC mismatch at record %s: possible tampering", event.ID)
		}
		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}

	if len(events) > 0 && expectedSeq-1 != l.sequence {
		fail("journal ends at sequence %d but %d events were written", expectedSeq-1, l.sequence)
	}
	return result, nil
}

// ListEvents returns events newer than since (zero means all), keeping the
// most recent limit events (0 means all).
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	if !since.IsZero() {
		events = slices.DeleteFunc(events, func(e Event) bool {
			ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
			return err != nil || !ts.After(since)
		})
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Prune deletes whole monthly files whose events are all older than
// olderThan and returns the number of events removed. With dryRun set
// nothing is deleted. Whole files are dropped so the remaining chain stays
// verifiable from its first event.
func (l *Logger) Prune(olderThan time.Duration, dryRun bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return removed, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		if len(events) == 0 || !allBefore(events, cutoff) {
			// Files are chronological, nothing later can be pruned
			break
		}
		if !dryRun {
			if err := os.Remove(file); err != nil {
				return removed, fmt.Errorf("audit: failed to delete %s: %w", file, err)
			}
		}
		removed += len(events)
	}
	return removed, nil
}

func allBefore(events []Event, cutoff time.Time) bool {
	for _, e := range events {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil || !ts.Before(cutoff) {
			return false
		}
	}
	return true
}

// logFiles returns the journal files in chronological order.
func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*"+logExt))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	slices.Sort(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, sc.Err()
}
