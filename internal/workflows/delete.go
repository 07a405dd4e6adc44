package workflows

import (
	"context"
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/audit"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
)

// DeleteOptions configures the delete workflow.
type DeleteOptions struct {
	// Name is the secret to remove.
	Name string

	// Force allows deleting a secret the manifest still declares.
	Force bool
}

// DeleteResult contains the outcome of a delete operation.
type DeleteResult struct {
	Name string

	// WasDeclared is set when the secret was still in the manifest.
	WasDeclared bool
}

// Delete removes a stored envelope. This is the only operation that
// destroys secret material; rekeying never does, even for orphans.
//
// Returns ErrSecretNotFound if the secret has no envelope.
// Returns ErrSecretExists wrapped with the reason if the manifest still
// declares the secret and Force is not set.
func Delete(ctx context.Context, s *Session, m *manifest.Manifest, opts DeleteOptions) (*DeleteResult, error) {
	if err := manifest.ValidateSecretName(opts.Name); err != nil {
		return nil, err
	}

	_, declared := m.Lookup(opts.Name)
	if declared && !opts.Force {
		return nil, fmt.Errorf("%w: %s is still declared in the manifest", serrors.ErrSecretExists, opts.Name)
	}

	unlock, err := s.Store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.Store.Delete(opts.Name); err != nil {
		return nil, err
	}
	s.Log.Infof("Deleted %s", opts.Name)

	auditEntry := audit.NewEntry("delete")
	auditEntry.Secrets = []string{opts.Name}
	s.record(auditEntry)

	return &DeleteResult{Name: opts.Name, WasDeclared: declared}, nil
}
