package engine

import (
	"bytes"
	"fmt"
	"io"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"

	"github.com/ProtonMail/go-crypto/openpgp"
)

type pgpPublicKey struct {
	entity *openpgp.Entity
}

func (k *pgpPublicKey) Bytes() []byte {
	return k.entity.PrimaryKey.Fingerprint[:]
}

// PGP seals shares as OpenPGP messages.
//
// Key files are ASCII armored and hold exactly one entity. Encrypted secret
// keys are unlocked with the keyring's passphrase source when first used.
type PGP struct {
	keyring Keyring
}

func NewPGP(kr Keyring) *PGP {
	return &PGP{keyring: kr}
}

func (p *PGP) Name() string {
	return "pgp"
}

func (p *PGP) SealTo(plaintext []byte, pub PublicKey) ([]byte, error) {
	key, err := publicKeyOf[*pgpPublicKey](p.Name(), pub)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	w, err := openpgp.Encrypt(&out, []*openpgp.Entity{key.entity}, nil, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pgp: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("pgp: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("pgp: %w", err)
	}
	return out.Bytes(), nil
}

func (p *PGP) UnsealWith(share []byte, priv PrivateKey) ([]byte, error) {
	entity, err := privateKeyOf[*openpgp.Entity](p.Name(), priv)
	if err != nil {
		return nil, err
	}
	md, err := openpgp.ReadMessage(bytes.NewReader(share), openpgp.EntityList{entity}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("pgp: %w", err)
	}
	plaintext, err := io.ReadAll(md.UnverifiedBody)
	if err != nil {
		return nil, fmt.Errorf("pgp: %w", err)
	}
	return plaintext, nil
}

func (p *PGP) ResolvePublicKey(id string) (PublicKey, error) {
	data, err := p.keyring.readPublic(id)
	if err != nil {
		return nil, err
	}
	entity, err := readSingleEntity(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", serrors.ErrInvalidPublicKey, id, err)
	}
	return &pgpPublicKey{entity: entity}, nil
}

func (p *PGP) LocalPrivateKeyFor(id string) (PrivateKey, bool) {
	if !p.keyring.hasPrivate(id) {
		return nil, false
	}
	return newLazyPrivateKey(id, func() (*openpgp.Entity, error) {
		data, err := p.keyring.readPrivate(id)
		if err != nil {
			return nil, err
		}
		entity, err := readSingleEntity(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPrivateKey, err)
		}
		if entity.PrivateKey == nil {
			return nil, fmt.Errorf("%w: %s holds no secret key", serrors.ErrInvalidPrivateKey, p.keyring.PrivateKeyPath(id))
		}
		if err := p.unlock(id, entity); err != nil {
			return nil, err
		}
		return entity, nil
	}), true
}

// unlock decrypts the primary key and every subkey that is still encrypted.
func (p *PGP) unlock(id string, entity *openpgp.Entity) error {
	encrypted := entity.PrivateKey.Encrypted
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			encrypted = true
		}
	}
	if !encrypted {
		return nil
	}

	pass, err := p.keyring.passphrase(id)
	if err != nil {
		return err
	}
	defer wipe(pass)

	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(pass); err != nil {
			return fmt.Errorf("%w: %v", serrors.ErrInvalidPrivateKey, err)
		}
	}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
			if err := sub.PrivateKey.Decrypt(pass); err != nil {
				return fmt.Errorf("%w: %v", serrors.ErrInvalidPrivateKey, err)
			}
		}
	}
	return nil
}

func readSingleEntity(data []byte) (*openpgp.Entity, error) {
	entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(entities) != 1 {
		return nil, fmt.Errorf("expected exactly one key, found %d", len(entities))
	}
	return entities[0], nil
}
