package workflows

import (
	"context"

	"github.com/nixsecrets/nixos-secrets/internal/audit"
)

// CleanOptions configures the clean workflow.
type CleanOptions struct {
	// DryRun previews what would be removed without making changes.
	DryRun bool
}

// CleanResult contains the outcome of a clean operation.
type CleanResult struct {
	// TempFiles lists leftover temporary files, relative to the store.
	TempFiles []string

	// RemovedCount is the number of files removed (0 if dry-run).
	RemovedCount int

	// DryRun indicates whether this was a dry-run.
	DryRun bool
}

// Clean removes temporary files left behind by interrupted writes.
//
// A temporary file is only ever a copy of an envelope that was about to
// replace the real one, so removing it never loses a secret. The store lock
// is held so a concurrent run's in-flight writes are not removed.
func Clean(ctx context.Context, s *Session, opts CleanOptions) (*CleanResult, error) {
	if !opts.DryRun {
		unlock, err := s.Store.Lock(ctx)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	tmps, err := s.Store.TempFiles()
	if err != nil {
		return nil, err
	}

	result := &CleanResult{
		TempFiles: tmps,
		DryRun:    opts.DryRun,
	}

	// If nothing found or dry-run, return early.
	if len(tmps) == 0 || opts.DryRun {
		return result, nil
	}

	for _, rel := range tmps {
		if err := s.Store.RemoveTemp(rel); err != nil {
			return nil, err
		}
		result.RemovedCount++
	}

	auditEntry := audit.NewEntry("clean")
	auditEntry.RemovedCount = result.RemovedCount
	s.record(auditEntry)

	return result, nil
}
