package engine

import (
	"bytes"
	"fmt"
	"io"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"

	"filippo.io/age"
)

type agePublicKey struct {
	recipient *age.X25519Recipient
}

func (k *agePublicKey) Bytes() []byte {
	return []byte(k.recipient.String())
}

// Age seals shares as age files with a single X25519 recipient.
//
// Public key files hold an "age1..." recipient line and private key files
// an "AGE-SECRET-KEY-1..." identity line, as written by age-keygen.
// Lines starting with '#' are ignored.
type Age struct {
	keyring Keyring
}

func NewAge(kr Keyring) *Age {
	return &Age{keyring: kr}
}

func (a *Age) Name() string {
	return "age"
}

func (a *Age) SealTo(plaintext []byte, pub PublicKey) ([]byte, error) {
	key, err := publicKeyOf[*agePublicKey](a.Name(), pub)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, key.recipient)
	if err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	return out.Bytes(), nil
}

func (a *Age) UnsealWith(share []byte, priv PrivateKey) ([]byte, error) {
	identity, err := privateKeyOf[*age.X25519Identity](a.Name(), priv)
	if err != nil {
		return nil, err
	}
	r, err := age.Decrypt(bytes.NewReader(share), identity)
	if err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("age: %w", err)
	}
	return plaintext, nil
}

func (a *Age) ResolvePublicKey(id string) (PublicKey, error) {
	data, err := a.keyring.readPublic(id)
	if err != nil {
		return nil, err
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", serrors.ErrInvalidPublicKey, id, err)
	}
	if len(recipients) != 1 {
		return nil, fmt.Errorf("%w: %s: expected exactly one recipient, found %d", serrors.ErrInvalidPublicKey, id, len(recipients))
	}
	x25519, ok := recipients[0].(*age.X25519Recipient)
	if !ok {
		return nil, fmt.Errorf("%w: %s: only X25519 recipients are supported", serrors.ErrInvalidPublicKey, id)
	}
	return &agePublicKey{recipient: x25519}, nil
}

func (a *Age) LocalPrivateKeyFor(id string) (PrivateKey, bool) {
	if !a.keyring.hasPrivate(id) {
		return nil, false
	}
	return newLazyPrivateKey(id, func() (*age.X25519Identity, error) {
		data, err := a.keyring.readPrivate(id)
		if err != nil {
			return nil, err
		}
		identities, err := age.ParseIdentities(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPrivateKey, err)
		}
		for _, identity := range identities {
			if x25519, ok := identity.(*age.X25519Identity); ok {
				return x25519, nil
			}
		}
		return nil, fmt.Errorf("%w: no X25519 identity in %s", serrors.ErrInvalidPrivateKey, a.keyring.PrivateKeyPath(id))
	}), true
}
