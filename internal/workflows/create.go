package workflows

import (
	"context"
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/audit"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
)

// CreateOptions configures the create workflow.
type CreateOptions struct {
	// Name is the secret to create. It must be declared in the manifest.
	Name string

	// Plaintext is the secret value. The workflow does not retain or wipe
	// it; the caller owns the buffer.
	Plaintext []byte

	// Force replaces an existing envelope.
	Force bool
}

// CreateResult contains the outcome of a create operation.
type CreateResult struct {
	Name       string
	Recipients []string

	// Replaced is set when Force overwrote an existing envelope.
	Replaced bool
}

// Create seals a new secret to the recipients the manifest declares for it.
//
// Returns ErrNotInManifest if the secret is not declared.
// Returns ErrSecretExists if the secret already has an envelope and Force is not set.
// Returns ErrUnknownRecipient if a declared recipient has no public key.
func Create(ctx context.Context, s *Session, m *manifest.Manifest, opts CreateOptions) (*CreateResult, error) {
	entry, err := declaredEntry(m, opts.Name)
	if err != nil {
		return nil, err
	}

	unlock, err := s.Store.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	exists, err := s.Store.Exists(entry.Name)
	if err != nil {
		return nil, err
	}
	if exists && !opts.Force {
		return nil, fmt.Errorf("%w: %s", serrors.ErrSecretExists, entry.Name)
	}

	if err := s.rekeyEngine(false, nil).Seal(entry.Name, opts.Plaintext, entry.Recipients); err != nil {
		return nil, err
	}
	s.Log.Infof("Sealed %s to %d recipients", entry.Name, len(entry.Recipients))

	auditEntry := audit.NewEntry("create")
	auditEntry.Secrets = []string{entry.Name}
	auditEntry.Recipients = entry.Recipients
	s.record(auditEntry)

	return &CreateResult{Name: entry.Name, Recipients: entry.Recipients, Replaced: exists}, nil
}

func declaredEntry(m *manifest.Manifest, name string) (manifest.Entry, error) {
	if err := manifest.ValidateSecretName(name); err != nil {
		return manifest.Entry{}, err
	}
	entry, ok := m.Lookup(name)
	if !ok {
		return manifest.Entry{}, fmt.Errorf("%w: %s", serrors.ErrNotInManifest, name)
	}
	if len(entry.Recipients) == 0 {
		return manifest.Entry{}, fmt.Errorf("%w: %s", serrors.ErrNoRecipients, name)
	}
	return entry, nil
}
