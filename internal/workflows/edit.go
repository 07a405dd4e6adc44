package workflows

import (
	"context"

	"github.com/nixsecrets/nixos-secrets/internal/audit"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
)

// EditOptions configures the edit workflow.
type EditOptions struct {
	// Name is the secret to replace. It must be declared in the manifest.
	Name string

	// Plaintext is the new secret value. The caller owns the buffer.
	Plaintext []byte
}

// EditResult contains the outcome of an edit operation.
type EditResult struct {
	Name       string
	Recipients []string
}

// Edit replaces the value of an existing secret, sealing it to the
// recipients the manifest currently declares. Editing does not require
// being able to read the old value.
//
// Returns ErrNotInManifest if the secret is not declared.
// Returns ErrSecretNotFound if the secret has no envelope yet.
func Edit(ctx context.Context, s *Session, m *manifest.Manifest, opts EditOptions) (*EditResult, error) {
	entry, err := declaredEntry(m, opts.Name)
	if err != nil {
		return nil, err
	}

	unlock, err := s.Store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Surfaces ErrSecretNotFound and ErrMalformedEnvelope.
	if _, err := s.Store.Read(entry.Name); err != nil {
		return nil, err
	}

	if err := s.rekeyEngine(false, nil).Seal(entry.Name, opts.Plaintext, entry.Recipients); err != nil {
		return nil, err
	}
	s.Log.Infof("Resealed %s to %d recipients", entry.Name, len(entry.Recipients))

	auditEntry := audit.NewEntry("edit")
	auditEntry.Secrets = []string{entry.Name}
	auditEntry.Recipients = entry.Recipients
	s.record(auditEntry)

	return &EditResult{Name: entry.Name, Recipients: entry.Recipients}, nil
}
