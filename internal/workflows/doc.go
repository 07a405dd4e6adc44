// Package workflows provides high-level orchestration for nixos-secrets
// commands.
//
// Workflows coordinate the registry, store and rekey engine to implement
// complete user-facing features. Each workflow handles a single command's
// business logic, independent of CLI concerns like flag parsing, spinners,
// and output formatting.
//
// # Design Philosophy
//
// The cmd/ package should be a thin layer that:
//   - Parses command-line flags and arguments
//   - Builds a Session from configuration
//   - Calls the appropriate workflow function
//   - Formats the result for display
//
// Workflows handle everything else:
//   - Validating the manifest against the registry
//   - Taking the store lock for mutating operations
//   - Performing the core operation
//   - Recording audit trail entries
//
// # Available Workflows
//
//   - Rekey: brings every declared secret in line with the manifest
//   - Status: Rekey without writing
//   - Create: seals a new declared secret
//   - Edit: replaces the value of an existing secret
//   - Decrypt: reads one secret with a local key
//   - Delete: removes an envelope
//   - Clean: removes temporary files left by interrupted writes
//   - Log: reads the audit trail
//
// # Error Handling
//
// Workflows return typed errors from the internal/errors package. Rekey
// reports per-secret outcomes in a RunReport; RunReport.Err folds failed
// and skipped secrets into one ErrPartialRunFailure:
//
//	report, err := workflows.Rekey(ctx, session, m, opts)
//	if err != nil {
//	    return err // the run never started
//	}
//	if err := report.Err(); err != nil {
//	    // some secrets need attention, the rest were processed
//	}
//
// # Context Usage
//
// All workflow functions accept a context.Context as their first parameter.
// Cancelling it stops Rekey from starting further secrets and bounds how
// long a workflow waits for the store lock.
package workflows
