package workflows

import (
	"context"
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/audit"
	"github.com/nixsecrets/nixos-secrets/internal/configs"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
	"github.com/nixsecrets/nixos-secrets/internal/rekey"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// RekeyOptions configures the rekey workflow.
type RekeyOptions struct {
	// DryRun reports what would happen without writing anything.
	DryRun bool

	// KeepGoing processes the valid entries of an invalid manifest and
	// reports the invalid ones as failed, instead of refusing to run.
	KeepGoing bool

	// Only restricts the run to secrets matching any of these globs.
	Only []string

	// Workers bounds how many secrets are processed at once. Defaults to 1.
	Workers int

	// Orphans is the orphan policy: configs.OrphansReport or
	// configs.OrphansFail.
	Orphans string

	// Plaintext supplies values for secrets that do not exist yet. When
	// nil, absent secrets are skipped.
	Plaintext rekey.PlaintextSource
}

// RunReport is the outcome of a rekey or status run.
type RunReport struct {
	RunID   string
	DryRun  bool
	Orphans string
	Results []rekey.Result
}

// Counts tallies results by outcome.
func (r *RunReport) Counts() map[rekey.Outcome]int {
	counts := make(map[rekey.Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// Err returns ErrPartialRunFailure wrapping every per-secret error when any
// secret failed or was skipped, or was orphaned under the fail policy.
func (r *RunReport) Err() error {
	var merr *multierror.Error
	for _, res := range r.Results {
		switch res.Outcome {
		case rekey.OutcomeFailed, rekey.OutcomeSkipped:
		case rekey.OutcomeOrphaned:
			if r.Orphans != configs.OrphansFail {
				continue
			}
		default:
			continue
		}
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", res.Name, res.Err))
	}
	if merr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", serrors.ErrPartialRunFailure, merr)
}

// Rekey brings every declared secret in line with the manifest.
//
// Secrets are processed independently by a bounded worker pool; one
// secret's failure never stops another. The manifest is validated first:
// any problem fails the whole run with ErrValidation unless KeepGoing is
// set. Cancelling ctx stops further secrets from starting; those report
// failed with the context's error.
//
// The returned error covers problems that prevent the run from starting.
// Per-secret failures are in the report; see RunReport.Err.
func Rekey(ctx context.Context, s *Session, m *manifest.Manifest, opts RekeyOptions) (*RunReport, error) {
	report := &RunReport{
		RunID:   uuid.NewString(),
		DryRun:  opts.DryRun,
		Orphans: opts.Orphans,
	}
	if report.Orphans == "" {
		report.Orphans = configs.OrphansReport
	}

	for _, pattern := range opts.Only {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid --only pattern %q", pattern)
		}
	}

	invalid, err := validate(s, m, opts.KeepGoing)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		unlock, err := s.Store.Lock(ctx)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(); err != nil {
				s.Log.Warnf("Failed to release store lock: %v", err)
			}
		}()
	}

	stored, err := s.Store.List()
	if err != nil {
		return nil, err
	}

	entries := m.Entries()
	declared := make(map[string]bool, len(entries))
	for _, e := range entries {
		declared[e.Name] = true
	}

	var selected []manifest.Entry
	var selectedIdx []int
	for i, e := range entries {
		if matchesOnly(opts.Only, e.Name) {
			selected = append(selected, e)
			selectedIdx = append(selectedIdx, i)
		}
	}

	s.Log.Debugf("Run %s: %d declared secrets selected, %d stored", report.RunID, len(selected), len(stored))

	eng := s.rekeyEngine(opts.DryRun, opts.Plaintext)
	results := make([]rekey.Result, len(selected))

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for i, entry := range selected {
		if verr, bad := invalid[selectedIdx[i]]; bad {
			results[i] = rekey.Result{
				Name:       entry.Name,
				Outcome:    rekey.OutcomeFailed,
				Err:        verr,
				Recipients: entry.Recipients,
				Planned:    opts.DryRun,
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			results[i] = rekey.Result{
				Name:       entry.Name,
				Outcome:    rekey.OutcomeFailed,
				Err:        err,
				Recipients: entry.Recipients,
				Planned:    opts.DryRun,
			}
			continue
		}

		g.Go(func() error {
			res := eng.Process(ctx, entry)
			s.Log.Debugf("%s: %s (%s)", res.Name, res.Outcome, res.State)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range stored {
		if !declared[name] && matchesOnly(opts.Only, name) {
			results = append(results, eng.Orphan(name))
		}
	}
	report.Results = results

	if !opts.DryRun {
		counts := report.Counts()
		if counts[rekey.OutcomeCreated]+counts[rekey.OutcomeRekeyed]+counts[rekey.OutcomeFailed] > 0 {
			entry := audit.NewEntry("rekey")
			entry.RunID = report.RunID
			entry.Created = counts[rekey.OutcomeCreated]
			entry.Rekeyed = counts[rekey.OutcomeRekeyed]
			entry.Skipped = counts[rekey.OutcomeSkipped]
			entry.Failed = counts[rekey.OutcomeFailed]
			entry.Orphaned = counts[rekey.OutcomeOrphaned]
			s.record(entry)
		}
	}

	return report, nil
}

// Status reports what Rekey would do without writing anything.
func Status(ctx context.Context, s *Session, m *manifest.Manifest, opts RekeyOptions) (*RunReport, error) {
	opts.DryRun = true
	return Rekey(ctx, s, m, opts)
}

// validate checks the manifest. With keepGoing, problems are returned per
// entry index for the caller to report; otherwise any problem is an error.
func validate(s *Session, m *manifest.Manifest, keepGoing bool) (map[int]error, error) {
	verrs := m.Validate(s.Registry)
	if len(verrs) == 0 {
		return nil, nil
	}

	if !keepGoing {
		var merr *multierror.Error
		for _, verr := range verrs {
			merr = multierror.Append(merr, verr)
		}
		return nil, fmt.Errorf("%w: %w", serrors.ErrValidation, merr)
	}

	invalid := make(map[int]error, len(verrs))
	for _, verr := range verrs {
		s.Log.Warnf("Invalid manifest entry %s", verr)
		invalid[verr.Index] = multierror.Append(invalid[verr.Index], verr)
	}
	for i, err := range invalid {
		invalid[i] = fmt.Errorf("%w: %w", serrors.ErrValidation, err)
	}
	return invalid, nil
}

func matchesOnly(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
