// Package testutil provides key fixtures and fault injection helpers shared
// by the package tests.
package testutil

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixsecrets/nixos-secrets/internal/engine"

	"filippo.io/age"
	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"golang.org/x/crypto/nacl/box"
)

// NewKeyring creates empty public and private key directories under t.TempDir().
func NewKeyring(t *testing.T) engine.Keyring {
	t.Helper()
	dir := t.TempDir()
	kr := engine.Keyring{
		PublicDir:  filepath.Join(dir, "public"),
		PrivateDir: filepath.Join(dir, "private"),
	}
	for _, d := range []string{kr.PublicDir, kr.PrivateDir} {
		if err := os.MkdirAll(d, 0700); err != nil {
			t.Fatalf("Failed to create key directory %s: %v", d, err)
		}
	}
	return kr
}

// BoxKeyring returns a box engine whose keyring holds public keys for every
// id in ids and private keys only for the ids in local.
func BoxKeyring(t *testing.T, ids []string, local ...string) (engine.Engine, engine.Keyring) {
	t.Helper()
	kr := NewKeyring(t)
	isLocal := make(map[string]bool)
	for _, id := range local {
		isLocal[id] = true
	}
	for _, id := range ids {
		WriteBoxKey(t, kr, id, isLocal[id])
	}
	return engine.NewBox(kr), kr
}

// WriteBoxKey generates a box key pair for id.
func WriteBoxKey(t *testing.T, kr engine.Keyring, id string, withPrivate bool) {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate box key: %v", err)
	}
	writeFile(t, kr.PublicKeyPath(id), []byte(base64.StdEncoding.EncodeToString(pub[:])+"\n"))
	if !withPrivate {
		return
	}
	data, err := json.Marshal(engine.BoxKeyFile{
		Pub:  base64.StdEncoding.EncodeToString(pub[:]),
		Priv: base64.StdEncoding.EncodeToString(priv[:]),
	})
	if err != nil {
		t.Fatalf("Failed to marshal box key: %v", err)
	}
	writeFile(t, kr.PrivateKeyPath(id), data)
}

// WriteAgeKey generates an age X25519 identity for id.
func WriteAgeKey(t *testing.T, kr engine.Keyring, id string, withPrivate bool) {
	t.Helper()
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("Failed to generate age identity: %v", err)
	}
	writeFile(t, kr.PublicKeyPath(id), []byte("# "+id+"\n"+identity.Recipient().String()+"\n"))
	if withPrivate {
		writeFile(t, kr.PrivateKeyPath(id), []byte(identity.String()+"\n"))
	}
}

// WriteRSAKey generates a 2048-bit RSA key pair for id in PEM form.
func WriteRSAKey(t *testing.T, kr engine.Keyring, id string, withPrivate bool) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	writeFile(t, kr.PublicKeyPath(id), pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	if withPrivate {
		writeFile(t, kr.PrivateKeyPath(id), pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	}
	return key
}

// WritePGPKey generates an OpenPGP entity for id in armored form.
func WritePGPKey(t *testing.T, kr engine.Keyring, id string, withPrivate bool) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(id, "", id+"@example.com", nil)
	if err != nil {
		t.Fatalf("Failed to generate OpenPGP entity: %v", err)
	}

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("Failed to open armor writer: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("Failed to serialize public key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close armor writer: %v", err)
	}
	writeFile(t, kr.PublicKeyPath(id), pub.Bytes())

	if withPrivate {
		var priv bytes.Buffer
		w, err := armor.Encode(&priv, openpgp.PrivateKeyType, nil)
		if err != nil {
			t.Fatalf("Failed to open armor writer: %v", err)
		}
		if err := entity.SerializePrivate(w, nil); err != nil {
			t.Fatalf("Failed to serialize private key: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Failed to close armor writer: %v", err)
		}
		writeFile(t, kr.PrivateKeyPath(id), priv.Bytes())
	}
	return entity
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// CopyFile copies a key file, typically to give a second keyring one of the
// private keys of the first.
func CopyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", src, err)
	}
	writeFile(t, dst, data)
}
