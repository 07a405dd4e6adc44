// Package audit records who changed which secrets and when.
//
// Every mutating operation (create, edit, rekey, delete, clean) appends an
// entry to a JSON Lines file kept next to the envelopes:
//
//	secrets/.audit.jsonl
//
// Each entry contains:
//   - Timestamp (RFC3339 with microseconds, UTC)
//   - Local user and host name
//   - Operation name and run id
//   - Operation-specific details (secret names, outcome counts)
//
// # Usage
//
//	trail := audit.NewTrail(fs, filepath.Join(storeDir, audit.FileName))
//	entry := audit.NewEntry("create")
//	entry.Secrets = []string{"db-password"}
//	_ = trail.Log(entry)
//
// # Failure Handling
//
// Audit logging is best-effort. Log returns its error so the caller can
// warn about it, but no operation fails because the trail could not be
// written. ReadEntries skips malformed lines to tolerate partial writes.
package audit
