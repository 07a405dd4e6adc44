package audit

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

const testLogPath = "/secrets/.audit.jsonl"

func newTestTrail(t *testing.T) (*Trail, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/secrets", 0755); err != nil {
		t.Fatalf("Failed to create store dir: %v", err)
	}
	return NewTrail(fs, testLogPath), fs
}

func TestLog_CreatesFile(t *testing.T) {
	trail, fs := newTestTrail(t)

	if err := trail.Log(Entry{User: "ben", Operation: "create", Secrets: []string{"db-password"}}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	ok, err := afero.Exists(fs, testLogPath)
	if err != nil || !ok {
		t.Fatalf("Audit log file was not created")
	}
}

func TestLog_AppendsEntries(t *testing.T) {
	trail, _ := newTestTrail(t)

	for _, op := range []string{"create", "rekey", "delete"} {
		if err := trail.Log(Entry{User: "ben", Operation: op}); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	entries, err := trail.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	if entries[0].Operation != "create" || entries[2].Operation != "delete" {
		t.Errorf("Entries out of order: %+v", entries)
	}
}

func TestLog_TimestampFormat(t *testing.T) {
	trail, _ := newTestTrail(t)
	if err := trail.Log(Entry{Operation: "rekey"}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	entries, err := trail.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000000Z", entries[0].Timestamp); err != nil {
		t.Errorf("Timestamp %q has unexpected format: %v", entries[0].Timestamp, err)
	}
}

func TestLog_OmitsEmptyFields(t *testing.T) {
	trail, fs := newTestTrail(t)
	if err := trail.Log(Entry{User: "ben", Operation: "clean", RemovedCount: 2}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	data, err := afero.ReadFile(fs, testLogPath)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &raw); err != nil {
		t.Fatalf("Log line is not valid JSON: %v", err)
	}
	for _, field := range []string{"secrets", "recipients", "created", "rekeyed", "failed", "run_id"} {
		if _, ok := raw[field]; ok {
			t.Errorf("Expected %s to be omitted", field)
		}
	}
	if raw["removed_count"] != float64(2) {
		t.Errorf("Expected removed_count 2, got %v", raw["removed_count"])
	}
}

func TestLog_ConcurrentAppends(t *testing.T) {
	trail, _ := newTestTrail(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = trail.Log(Entry{Operation: "rekey"})
		}()
	}
	wg.Wait()

	entries, err := trail.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if len(entries) != 20 {
		t.Errorf("Expected 20 entries, got %d", len(entries))
	}
}

func TestLog_NilTrail(t *testing.T) {
	var trail *Trail
	if err := trail.Log(Entry{Operation: "rekey"}); err != nil {
		t.Errorf("Expected nil trail to be a no-op, got %v", err)
	}
}

func TestLog_FailureIsReported(t *testing.T) {
	trail := NewTrail(afero.NewReadOnlyFs(afero.NewMemMapFs()), testLogPath)
	if err := trail.Log(Entry{Operation: "rekey"}); err == nil {
		t.Error("Expected an error writing to a read-only filesystem")
	}
}

func TestReadEntries_MissingLog(t *testing.T) {
	trail, _ := newTestTrail(t)
	entries, err := trail.ReadEntries()
	if err != nil {
		t.Fatalf("ReadEntries failed: %v", err)
	}
	if entries != nil {
		t.Errorf("Expected nil entries, got %v", entries)
	}
}

func TestNewEntry(t *testing.T) {
	entry := NewEntry("edit")
	if entry.Operation != "edit" {
		t.Errorf("Expected op edit, got %s", entry.Operation)
	}
	if entry.Timestamp != "" {
		t.Errorf("Expected timestamp to be set on Log, got %s", entry.Timestamp)
	}
}

func TestParseEntries_ValidData(t *testing.T) {
	data := []byte(`{"ts":"2024-01-15T10:30:00.123456Z","user":"alice","host":"hostA","op":"create"}
{"ts":"2024-01-15T10:35:00.456789Z","user":"bob","host":"hostB","op":"rekey","rekeyed":3}
`)

	entries, err := ParseEntries(data)
	if err != nil {
		t.Fatalf("ParseEntries failed: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].User != "alice" {
		t.Errorf("Expected first user alice, got %s", entries[0].User)
	}
	if entries[1].Rekeyed != 3 {
		t.Errorf("Expected rekeyed 3, got %d", entries[1].Rekeyed)
	}
}

func TestParseEntries_SkipsMalformedLines(t *testing.T) {
	data := []byte(`{"ts":"2024-01-15T10:30:00.123456Z","user":"alice","op":"create"}
this is not valid json
{"ts":"2024-01-15T10:35:00.456789Z","user":"bob","op":"rekey"}
`)

	entries, err := ParseEntries(data)
	if err != nil {
		t.Fatalf("ParseEntries failed: %v", err)
	}

	if len(entries) != 2 {
		t.Errorf("Expected 2 valid entries (malformed should be skipped), got %d", len(entries))
	}
}

func TestParseEntries_EmptyData(t *testing.T) {
	entries, err := ParseEntries([]byte{})
	if err != nil {
		t.Fatalf("ParseEntries failed: %v", err)
	}

	if entries != nil {
		t.Errorf("Expected nil entries for empty data, got %v", entries)
	}
}
