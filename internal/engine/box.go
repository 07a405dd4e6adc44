package engine

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"

	"golang.org/x/crypto/nacl/box"
)

type boxPublicKey [32]byte

func (k *boxPublicKey) Bytes() []byte {
	return k[:]
}

type boxKeyPair struct {
	public  [32]byte
	private [32]byte
}

// BoxKeyFile is the on-disk JSON form of a box private key.
type BoxKeyFile struct {
	Pub  string `json:"pub"`
	Priv string `json:"priv"`
}

// Box seals shares with NaCl anonymous boxes (X25519 + XSalsa20-Poly1305).
type Box struct {
	keyring Keyring
}

func NewBox(kr Keyring) *Box {
	return &Box{keyring: kr}
}

func (b *Box) Name() string {
	return "box"
}

func (b *Box) SealTo(plaintext []byte, pub PublicKey) ([]byte, error) {
	key, err := publicKeyOf[*boxPublicKey](b.Name(), pub)
	if err != nil {
		return nil, err
	}
	arr := [32]byte(*key)
	return box.SealAnonymous(nil, plaintext, &arr, rand.Reader)
}

func (b *Box) UnsealWith(share []byte, priv PrivateKey) ([]byte, error) {
	keys, err := privateKeyOf[*boxKeyPair](b.Name(), priv)
	if err != nil {
		return nil, err
	}
	plaintext, ok := box.OpenAnonymous(nil, share, &keys.public, &keys.private)
	if !ok {
		return nil, fmt.Errorf("box: cannot open share with key %s", priv.ID())
	}
	return plaintext, nil
}

func (b *Box) ResolvePublicKey(id string) (PublicKey, error) {
	data, err := b.keyring.readPublic(id)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: %s is not a base64 encoded 32-byte box key", serrors.ErrInvalidPublicKey, id)
	}
	var key boxPublicKey
	copy(key[:], raw)
	return &key, nil
}

func (b *Box) LocalPrivateKeyFor(id string) (PrivateKey, bool) {
	if !b.keyring.hasPrivate(id) {
		return nil, false
	}
	return newLazyPrivateKey(id, func() (*boxKeyPair, error) {
		data, err := b.keyring.readPrivate(id)
		if err != nil {
			return nil, err
		}
		return parseBoxKeyFile(data)
	}), true
}

// parseBoxKeyFile decodes a box private key file.
func parseBoxKeyFile(data []byte) (*boxKeyPair, error) {
	var disk BoxKeyFile
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPrivateKey, err)
	}
	pub, err := base64.StdEncoding.DecodeString(disk.Pub)
	if err != nil {
		return nil, fmt.Errorf("%w: public half: %v", serrors.ErrInvalidPrivateKey, err)
	}
	priv, err := base64.StdEncoding.DecodeString(disk.Priv)
	if err != nil {
		return nil, fmt.Errorf("%w: private half: %v", serrors.ErrInvalidPrivateKey, err)
	}
	if len(pub) != 32 || len(priv) != 32 {
		return nil, fmt.Errorf("%w: invalid key lengths", serrors.ErrInvalidPrivateKey)
	}
	keys := &boxKeyPair{}
	copy(keys.public[:], pub)
	copy(keys.private[:], priv)
	return keys, nil
}
