package engine

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"

	"golang.org/x/crypto/ssh"
)

type rsaPublicKey struct {
	key *rsa.PublicKey
	der []byte
}

func (k *rsaPublicKey) Bytes() []byte {
	return k.der
}

// RSA seals shares with RSA-OAEP over SHA-256.
//
// Public keys may be PEM ("PUBLIC KEY" or "RSA PUBLIC KEY") or a single
// OpenSSH authorized_keys line. Private keys may be PKCS#1, PKCS#8 or
// OpenSSH PEM blocks; passphrase protected OpenSSH keys are unlocked
// through the keyring's passphrase source.
type RSA struct {
	keyring Keyring
}

func NewRSA(kr Keyring) *RSA {
	return &RSA{keyring: kr}
}

func (r *RSA) Name() string {
	return "rsa"
}

func (r *RSA) SealTo(plaintext []byte, pub PublicKey) ([]byte, error) {
	key, err := publicKeyOf[*rsaPublicKey](r.Name(), pub)
	if err != nil {
		return nil, err
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, key.key, plaintext, nil)
}

func (r *RSA) UnsealWith(share []byte, priv PrivateKey) ([]byte, error) {
	key, err := privateKeyOf[*rsa.PrivateKey](r.Name(), priv)
	if err != nil {
		return nil, err
	}
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, key, share, nil)
}

func (r *RSA) ResolvePublicKey(id string) (PublicKey, error) {
	data, err := r.keyring.readPublic(id)
	if err != nil {
		return nil, err
	}
	key, err := ParseRSAPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", serrors.ErrInvalidPublicKey, id, err)
	}
	return &rsaPublicKey{key: key, der: der}, nil
}

func (r *RSA) LocalPrivateKeyFor(id string) (PrivateKey, bool) {
	if !r.keyring.hasPrivate(id) {
		return nil, false
	}
	return newLazyPrivateKey(id, func() (*rsa.PrivateKey, error) {
		data, err := r.keyring.readPrivate(id)
		if err != nil {
			return nil, err
		}
		return ParseRSAPrivateKey(data, func() ([]byte, error) {
			return r.keyring.passphrase(id)
		})
	}), true
}

// ParseRSAPublicKey loads an RSA public key from PEM or authorized_keys format.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("ssh-rsa ")) {
		sshKey, _, _, _, err := ssh.ParseAuthorizedKey(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPublicKey, err)
		}
		cryptoKey, ok := sshKey.(ssh.CryptoPublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: cannot extract ssh key", serrors.ErrInvalidPublicKey)
		}
		rsaKey, ok := cryptoKey.CryptoPublicKey().(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", serrors.ErrInvalidPublicKey)
		}
		return rsaKey, nil
	}

	block, _ := pem.Decode(trimmed)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block containing public key", serrors.ErrInvalidPublicKey)
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPublicKey, err)
		}
		return key, nil
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPublicKey, err)
		}
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA public key", serrors.ErrInvalidPublicKey)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", serrors.ErrInvalidPublicKey, block.Type)
	}
}

// ParseRSAPrivateKey loads an RSA private key. passphrase is only called for
// encrypted OpenSSH keys and may be nil.
func ParseRSAPrivateKey(data []byte, passphrase func() ([]byte, error)) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: failed to decode PEM block containing private key", serrors.ErrInvalidPrivateKey)
	}

	var (
		raw any
		err error
	)
	switch block.Type {
	case "RSA PRIVATE KEY":
		raw, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		raw, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "OPENSSH PRIVATE KEY":
		raw, err = parseOpenSSHPrivateKey(data, passphrase)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", serrors.ErrInvalidPrivateKey, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", serrors.ErrInvalidPrivateKey, err)
	}

	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA private key", serrors.ErrInvalidPrivateKey)
	}
	return key, nil
}

func parseOpenSSHPrivateKey(data []byte, passphrase func() ([]byte, error)) (any, error) {
	raw, err := ssh.ParseRawPrivateKey(data)
	if err == nil {
		return raw, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, err
	}
	if passphrase == nil {
		return nil, fmt.Errorf("key is passphrase protected")
	}
	pass, err := passphrase()
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer wipe(pass)
	return ssh.ParseRawPrivateKeyWithPassphrase(data, pass)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
