// Package registry resolves recipient identifiers to public key material
// and records which recipients can be decrypted with locally.
//
// A Registry is built once per run from the engine's keyring and is
// read-only afterwards, so it is safe for concurrent use.
package registry

import (
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/engine"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"

	"github.com/hashicorp/go-multierror"
)

// Recipient is a resolved identity that secrets can be sealed to.
type Recipient struct {
	ID          string
	Fingerprint string
	PublicKey   engine.PublicKey

	private engine.PrivateKey
}

// PrivateKey returns the local private key handle, or nil.
func (r Recipient) PrivateKey() engine.PrivateKey {
	return r.private
}

type Registry struct {
	order  []string
	byID   map[string]Recipient
	byFP   map[string]Recipient
	failed map[string]error
}

// New resolves every identifier through eng. Identifiers that fail to
// resolve are remembered and reported by Resolve. The order of ids is the
// registry's resolution order; duplicates are ignored.
func New(eng engine.Engine, ids []string) *Registry {
	reg := &Registry{
		byID:   make(map[string]Recipient, len(ids)),
		byFP:   make(map[string]Recipient, len(ids)),
		failed: make(map[string]error),
	}

	for _, id := range ids {
		if _, seen := reg.byID[id]; seen {
			continue
		}
		if _, seen := reg.failed[id]; seen {
			continue
		}

		pub, err := eng.ResolvePublicKey(id)
		if err != nil {
			reg.failed[id] = err
			continue
		}

		r := Recipient{
			ID:          id,
			Fingerprint: engine.Fingerprint(pub),
			PublicKey:   pub,
		}
		if priv, ok := eng.LocalPrivateKeyFor(id); ok {
			r.private = priv
		}

		if other, dup := reg.byFP[r.Fingerprint]; dup {
			reg.failed[id] = fmt.Errorf("%w: %s shares its public key with %s", serrors.ErrInvalidPublicKey, id, other.ID)
			continue
		}

		reg.order = append(reg.order, id)
		reg.byID[id] = r
		reg.byFP[r.Fingerprint] = r
	}

	return reg
}

// Resolve returns the recipient registered under id.
func (reg *Registry) Resolve(id string) (Recipient, error) {
	if r, ok := reg.byID[id]; ok {
		return r, nil
	}
	if err, ok := reg.failed[id]; ok {
		return Recipient{}, fmt.Errorf("%w: %s: %w", serrors.ErrUnknownRecipient, id, err)
	}
	return Recipient{}, fmt.Errorf("%w: %s", serrors.ErrUnknownRecipient, id)
}

// ResolveAll resolves ids in order, aggregating every failure.
func (reg *Registry) ResolveAll(ids []string) ([]Recipient, error) {
	var merr *multierror.Error
	recipients := make([]Recipient, 0, len(ids))
	for _, id := range ids {
		r, err := reg.Resolve(id)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		recipients = append(recipients, r)
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return recipients, nil
}

// ByFingerprint looks up a recipient by its key fingerprint.
func (reg *Registry) ByFingerprint(fp string) (Recipient, bool) {
	r, ok := reg.byFP[fp]
	return r, ok
}

// CanEncryptTo reports whether r has usable public key material.
func (reg *Registry) CanEncryptTo(r Recipient) bool {
	return r.PublicKey != nil
}

// CanDecryptWith reports whether r's private key is available locally.
func (reg *Registry) CanDecryptWith(r Recipient) bool {
	return r.private != nil
}

// Decryptors returns the recipients among fps that can decrypt locally,
// in resolution order.
func (reg *Registry) Decryptors(fps []string) []Recipient {
	wanted := make(map[string]bool, len(fps))
	for _, fp := range fps {
		wanted[fp] = true
	}

	var out []Recipient
	for _, id := range reg.order {
		r := reg.byID[id]
		if wanted[r.Fingerprint] && reg.CanDecryptWith(r) {
			out = append(out, r)
		}
	}
	return out
}

// IDs returns the resolved identifiers in resolution order.
func (reg *Registry) IDs() []string {
	return append([]string(nil), reg.order...)
}

// Len returns the number of resolved recipients.
func (reg *Registry) Len() int {
	return len(reg.order)
}
