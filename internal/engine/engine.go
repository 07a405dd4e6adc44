package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
)

// PublicKey is public key material understood by the Engine that resolved it.
type PublicKey interface {
	// Bytes returns the canonical encoding the fingerprint is computed over.
	Bytes() []byte
}

// PrivateKey is a handle to a locally available private key. The key material
// itself may be loaded lazily on first use.
type PrivateKey interface {
	ID() string
}

// Engine seals and unseals small payloads to individual recipients. It is the
// only place where asymmetric cryptography happens.
type Engine interface {
	// Name returns the registered engine name.
	Name() string

	// SealTo encrypts plaintext so only the holder of pub's private key can read it.
	SealTo(plaintext []byte, pub PublicKey) ([]byte, error)

	// UnsealWith decrypts a share produced by SealTo.
	UnsealWith(share []byte, priv PrivateKey) ([]byte, error)

	// ResolvePublicKey loads the public key for a recipient identifier.
	ResolvePublicKey(id string) (PublicKey, error)

	// LocalPrivateKeyFor returns a handle to the recipient's private key if
	// it is present on this machine.
	LocalPrivateKeyFor(id string) (PrivateKey, bool)
}

// Fingerprint returns the lowercase hex SHA-256 of the key's canonical bytes.
func Fingerprint(pub PublicKey) string {
	sum := sha256.Sum256(pub.Bytes())
	return hex.EncodeToString(sum[:])
}

var constructors = map[string]func(Keyring) Engine{
	"age": func(kr Keyring) Engine { return NewAge(kr) },
	"box": func(kr Keyring) Engine { return NewBox(kr) },
	"pgp": func(kr Keyring) Engine { return NewPGP(kr) },
	"rsa": func(kr Keyring) Engine { return NewRSA(kr) },
}

// New returns the engine registered under name, bound to the given keyring.
func New(name string, kr Keyring) (Engine, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", serrors.ErrUnknownEngine, name, Names())
	}
	return ctor(kr), nil
}

// Names returns the registered engine names in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lazyPrivateKey defers reading and parsing a private key until it is needed.
// Loading happens at most once, even under concurrent use.
type lazyPrivateKey[T any] struct {
	id   string
	load func() (T, error)

	once sync.Once
	key  T
	err  error
}

func newLazyPrivateKey[T any](id string, load func() (T, error)) *lazyPrivateKey[T] {
	return &lazyPrivateKey[T]{id: id, load: load}
}

func (k *lazyPrivateKey[T]) ID() string {
	return k.id
}

func (k *lazyPrivateKey[T]) get() (T, error) {
	k.once.Do(func() {
		k.key, k.err = k.load()
	})
	return k.key, k.err
}

// privateKeyOf asserts that priv was produced by the same engine type.
func privateKeyOf[T any](engineName string, priv PrivateKey) (T, error) {
	var zero T
	lazy, ok := priv.(*lazyPrivateKey[T])
	if !ok {
		return zero, fmt.Errorf("%w: %T is not a %s private key", serrors.ErrInvalidPrivateKey, priv, engineName)
	}
	key, err := lazy.get()
	if err != nil {
		return zero, fmt.Errorf("loading private key for %s: %w", lazy.id, err)
	}
	return key, nil
}

// publicKeyOf asserts that pub was produced by the same engine type.
func publicKeyOf[T PublicKey](engineName string, pub PublicKey) (T, error) {
	key, ok := pub.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %T is not a %s public key", serrors.ErrInvalidPublicKey, pub, engineName)
	}
	return key, nil
}
