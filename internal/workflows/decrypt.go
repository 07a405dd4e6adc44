package workflows

import (
	"context"
)

// DecryptOptions configures the decrypt workflow.
type DecryptOptions struct {
	// Name is the secret to read.
	Name string
}

// DecryptResult contains the outcome of a decrypt operation.
type DecryptResult struct {
	Name string

	// Plaintext is the secret value. The caller must wipe it when done.
	Plaintext []byte

	// DecryptedWith is the local recipient whose key opened the envelope.
	DecryptedWith string
}

// Decrypt reads one secret using the first local key that can open it.
// Decrypting is read-only and is not recorded in the audit trail.
//
// Returns ErrSecretNotFound if the secret has no envelope.
// Returns ErrNoAuthorizedLocalKey if no local key is among its recipients.
func Decrypt(ctx context.Context, s *Session, opts DecryptOptions) (*DecryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plaintext, with, err := s.rekeyEngine(false, nil).Open(opts.Name)
	if err != nil {
		return nil, err
	}
	s.Log.Debugf("Decrypted %s with the key for %s", opts.Name, with)

	return &DecryptResult{Name: opts.Name, Plaintext: plaintext, DecryptedWith: with}, nil
}
