package audit

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/nixsecrets/nixos-secrets/internal/utils"

	"github.com/spf13/afero"
)

// FileName is the audit log's name inside the store directory.
const FileName = ".audit.jsonl"

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"`   // RFC3339 with microseconds.
	User      string `json:"user"` // Local account performing the action.
	Host      string `json:"host"` // Machine the action ran on.
	Operation string `json:"op"`   // Operation name.
	RunID     string `json:"run_id,omitempty"`

	// Optional fields depending on operation.
	Secrets      []string `json:"secrets,omitempty"`       // For create/edit/delete.
	Recipients   []string `json:"recipients,omitempty"`    // For create/edit.
	Created      int      `json:"created,omitempty"`       // For rekey.
	Rekeyed      int      `json:"rekeyed,omitempty"`       // For rekey.
	Skipped      int      `json:"skipped,omitempty"`       // For rekey.
	Failed       int      `json:"failed,omitempty"`        // For rekey.
	Orphaned     int      `json:"orphaned,omitempty"`      // For rekey.
	RemovedCount int      `json:"removed_count,omitempty"` // For clean.
}

// Trail is an append-only JSON Lines audit log.
type Trail struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

// NewTrail returns a trail stored at path on fsys.
func NewTrail(fsys afero.Fs, path string) *Trail {
	return &Trail{fs: fsys, path: path}
}

// Path returns the audit log location.
func (t *Trail) Path() string {
	return t.path
}

// NewEntry returns an entry for op with the user and host fields filled in.
func NewEntry(op string) Entry {
	entry := Entry{Operation: op}
	if user, err := utils.GetUsername(); err == nil {
		entry.User = user
	}
	if host, err := utils.GetHostname(); err == nil {
		entry.Host = host
	}
	return entry
}

// Log appends an entry to the audit log.
// If logging fails, the error is returned for the caller to report, but
// operations should not fail just because audit logging failed.
func (t *Trail) Log(entry Entry) error {
	if t == nil || t.path == "" {
		return nil
	}

	// Set timestamp if not already set.
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// #nosec G306 -- audit log should be readable by everyone with the repository.
	f, err := t.fs.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// ReadEntries reads all entries from the audit log.
// Returns an empty slice if the log doesn't exist.
func (t *Trail) ReadEntries() ([]Entry, error) {
	data, err := afero.ReadFile(t.fs, t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ParseEntries(data)
}

// ParseEntries parses JSON Lines data into audit entries.
// Malformed lines are silently skipped.
func ParseEntries(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	start := 0

	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1

			if len(line) == 0 {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				// Skip malformed entries.
				continue
			}
			entries = append(entries, entry)
		}
	}

	return entries, nil
}
