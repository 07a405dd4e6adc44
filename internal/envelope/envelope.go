package envelope

import (
	"crypto/rand"
	"fmt"
	"io"
	"sort"

	"github.com/nixsecrets/nixos-secrets/internal/engine"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/registry"

	"golang.org/x/crypto/nacl/secretbox"
)

// Version is the only envelope format version this build reads and writes.
const Version = 1

const (
	dataKeySize = 32
	nonceSize   = 24
)

// Stanza binds one recipient fingerprint to the data key sealed for it.
type Stanza struct {
	Fingerprint string
	Share       []byte
}

// Envelope is the persisted form of a secret.
type Envelope struct {
	Version    int
	Recipients []Stanza
	// Payload is the nonce followed by the secretbox ciphertext.
	Payload []byte
}

// Fingerprints returns the recipient fingerprints in stanza order.
func (e *Envelope) Fingerprints() []string {
	fps := make([]string, len(e.Recipients))
	for i, s := range e.Recipients {
		fps[i] = s.Fingerprint
	}
	return fps
}

// SameRecipients reports whether the envelope was sealed to exactly the
// given fingerprint set. Order and duplicates in fps are ignored.
func (e *Envelope) SameRecipients(fps []string) bool {
	want := make(map[string]bool, len(fps))
	for _, fp := range fps {
		want[fp] = true
	}
	if len(want) != len(e.Recipients) {
		return false
	}
	for _, s := range e.Recipients {
		if !want[s.Fingerprint] {
			return false
		}
	}
	return true
}

func (e *Envelope) share(fp string) ([]byte, bool) {
	for _, s := range e.Recipients {
		if s.Fingerprint == fp {
			return s.Share, true
		}
	}
	return nil, false
}

// Encode seals plaintext to every recipient. Either every recipient gets a
// stanza or an error is returned; a partial envelope is never produced.
func Encode(eng engine.Engine, plaintext []byte, recipients []registry.Recipient) (*Envelope, error) {
	unique := make(map[string]registry.Recipient, len(recipients))
	for _, r := range recipients {
		unique[r.Fingerprint] = r
	}
	if len(unique) == 0 {
		return nil, fmt.Errorf("%w: no recipients", serrors.ErrEncryptionFailure)
	}

	dataKey := make([]byte, dataKeySize)
	if _, err := io.ReadFull(rand.Reader, dataKey); err != nil {
		return nil, fmt.Errorf("%w: generating data key: %v", serrors.ErrEncryptionFailure, err)
	}
	// Zero out the data key when we're done.
	defer wipe(dataKey)

	fps := make([]string, 0, len(unique))
	for fp := range unique {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	stanzas := make([]Stanza, 0, len(fps))
	for _, fp := range fps {
		r := unique[fp]
		if r.PublicKey == nil {
			return nil, fmt.Errorf("%w: recipient %s has no public key", serrors.ErrEncryptionFailure, r.ID)
		}
		share, err := eng.SealTo(dataKey, r.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: sealing to %s: %w", serrors.ErrEncryptionFailure, r.ID, err)
		}
		stanzas = append(stanzas, Stanza{Fingerprint: fp, Share: share})
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: generating nonce: %v", serrors.ErrEncryptionFailure, err)
	}
	var key [dataKeySize]byte
	copy(key[:], dataKey)
	defer wipe(key[:])

	return &Envelope{
		Version:    Version,
		Recipients: stanzas,
		Payload:    secretbox.Seal(nonce[:], plaintext, &nonce, &key),
	}, nil
}

// Decode opens the envelope with the recipient's local private key.
func Decode(eng engine.Engine, env *Envelope, r registry.Recipient) ([]byte, error) {
	priv := r.PrivateKey()
	if priv == nil {
		return nil, fmt.Errorf("%w: no local private key for %s", serrors.ErrRecipientNotAuthorized, r.ID)
	}
	share, ok := env.share(r.Fingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a recipient", serrors.ErrRecipientNotAuthorized, r.ID)
	}

	dataKey, err := eng.UnsealWith(share, priv)
	if err != nil {
		return nil, fmt.Errorf("%w: unsealing data key for %s: %w", serrors.ErrDecryptionFailure, r.ID, err)
	}
	defer wipe(dataKey)
	if len(dataKey) != dataKeySize {
		return nil, fmt.Errorf("%w: data key for %s has length %d", serrors.ErrDecryptionFailure, r.ID, len(dataKey))
	}
	if len(env.Payload) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("%w: payload too short", serrors.ErrDecryptionFailure)
	}

	var key [dataKeySize]byte
	copy(key[:], dataKey)
	defer wipe(key[:])
	var nonce [nonceSize]byte
	copy(nonce[:], env.Payload[:nonceSize])

	plaintext, ok := secretbox.Open(nil, env.Payload[nonceSize:], &nonce, &key)
	if !ok {
		return nil, fmt.Errorf("%w: payload authentication failed", serrors.ErrDecryptionFailure)
	}
	return plaintext, nil
}

// Wipe zeroes a plaintext buffer once the caller is done with it.
func Wipe(b []byte) {
	wipe(b)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
