package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
)

const (
	publicKeySuffix  = ".pub"
	privateKeySuffix = ".key"
)

// PassphraseFunc returns the passphrase protecting a recipient's private key.
type PassphraseFunc func(id string) ([]byte, error)

// Keyring describes where key material for a run lives. It is passed to the
// engine constructor explicitly and scoped to a single invocation.
//
// Public keys are read from PublicDir/<id>.pub and private keys from
// PrivateDir/<id>.key. PrivateDir may be empty when no local keys exist.
type Keyring struct {
	PublicDir  string
	PrivateDir string

	// Passphrase is consulted for encrypted private keys. May be nil.
	Passphrase PassphraseFunc
}

// ValidateIdentifier rejects identifiers that cannot be used as a key file name.
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty identifier", serrors.ErrUnknownRecipient)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: invalid identifier %q", serrors.ErrUnknownRecipient, id)
	}
	return nil
}

// PublicKeyPath returns the path of a recipient's public key file.
func (k Keyring) PublicKeyPath(id string) string {
	return filepath.Join(k.PublicDir, id+publicKeySuffix)
}

// PrivateKeyPath returns the path of a recipient's private key file.
func (k Keyring) PrivateKeyPath(id string) string {
	return filepath.Join(k.PrivateDir, id+privateKeySuffix)
}

// ListIdentifiers returns every identifier with a public key, sorted.
func (k Keyring) ListIdentifiers() ([]string, error) {
	entries, err := os.ReadDir(k.PublicDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading public key directory %s: %w", k.PublicDir, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), publicKeySuffix) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), publicKeySuffix)
		if ValidateIdentifier(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (k Keyring) readPublic(id string) ([]byte, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(k.PublicKeyPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", serrors.ErrPublicKeyNotFound, id)
		}
		return nil, fmt.Errorf("reading public key for %s: %w", id, err)
	}
	return data, nil
}

func (k Keyring) hasPrivate(id string) bool {
	if k.PrivateDir == "" || ValidateIdentifier(id) != nil {
		return false
	}
	info, err := os.Stat(k.PrivateKeyPath(id))
	return err == nil && info.Mode().IsRegular()
}

func (k Keyring) readPrivate(id string) ([]byte, error) {
	data, err := os.ReadFile(k.PrivateKeyPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", serrors.ErrPrivateKeyNotFound, id)
		}
		return nil, fmt.Errorf("reading private key for %s: %w", id, err)
	}
	return data, nil
}

func (k Keyring) passphrase(id string) ([]byte, error) {
	if k.Passphrase == nil {
		return nil, fmt.Errorf("%w: private key for %s is passphrase protected and no passphrase source is configured", serrors.ErrInvalidPrivateKey, id)
	}
	return k.Passphrase(id)
}
