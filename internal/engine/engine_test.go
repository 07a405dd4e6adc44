package engine_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"os"
	"testing"

	"github.com/nixsecrets/nixos-secrets/internal/engine"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/testutil"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type keyWriter func(t *testing.T, kr engine.Keyring, id string, withPrivate bool)

func engines() map[string]keyWriter {
	return map[string]keyWriter{
		"age": testutil.WriteAgeKey,
		"box": testutil.WriteBoxKey,
		"rsa": func(t *testing.T, kr engine.Keyring, id string, withPrivate bool) {
			testutil.WriteRSAKey(t, kr, id, withPrivate)
		},
		"pgp": func(t *testing.T, kr engine.Keyring, id string, withPrivate bool) {
			testutil.WritePGPKey(t, kr, id, withPrivate)
		},
	}
}

func TestEngineSealUnsealRoundTrip(t *testing.T) {
	for name, write := range engines() {
		t.Run(name, func(t *testing.T) {
			kr := testutil.NewKeyring(t)
			write(t, kr, "hostA", true)
			write(t, kr, "hostB", true)

			eng, err := engine.New(name, kr)
			require.NoError(t, err)
			require.Equal(t, name, eng.Name())

			pubA, err := eng.ResolvePublicKey("hostA")
			require.NoError(t, err)
			privA, ok := eng.LocalPrivateKeyFor("hostA")
			require.True(t, ok)
			privB, ok := eng.LocalPrivateKeyFor("hostB")
			require.True(t, ok)

			dataKey := make([]byte, 32)
			_, err = rand.Read(dataKey)
			require.NoError(t, err)

			share, err := eng.SealTo(dataKey, pubA)
			require.NoError(t, err)
			require.NotEqual(t, dataKey, share)

			got, err := eng.UnsealWith(share, privA)
			require.NoError(t, err)
			require.Equal(t, dataKey, got)

			_, err = eng.UnsealWith(share, privB)
			require.Error(t, err, "a different recipient must not open the share")
		})
	}
}

func TestEngineFingerprintStable(t *testing.T) {
	for name, write := range engines() {
		t.Run(name, func(t *testing.T) {
			kr := testutil.NewKeyring(t)
			write(t, kr, "hostA", false)
			write(t, kr, "hostB", false)
			eng, err := engine.New(name, kr)
			require.NoError(t, err)

			a1, err := eng.ResolvePublicKey("hostA")
			require.NoError(t, err)
			a2, err := eng.ResolvePublicKey("hostA")
			require.NoError(t, err)
			b, err := eng.ResolvePublicKey("hostB")
			require.NoError(t, err)

			require.Len(t, engine.Fingerprint(a1), 64)
			require.Equal(t, engine.Fingerprint(a1), engine.Fingerprint(a2))
			require.NotEqual(t, engine.Fingerprint(a1), engine.Fingerprint(b))
		})
	}
}

func TestLocalPrivateKeyAbsent(t *testing.T) {
	eng, _ := testutil.BoxKeyring(t, []string{"hostA"})
	_, ok := eng.LocalPrivateKeyFor("hostA")
	require.False(t, ok)
	_, ok = eng.LocalPrivateKeyFor("nobody")
	require.False(t, ok)
}

func TestResolveUnknownIdentifier(t *testing.T) {
	eng, _ := testutil.BoxKeyring(t, []string{"hostA"})
	_, err := eng.ResolvePublicKey("hostZ")
	require.ErrorIs(t, err, serrors.ErrPublicKeyNotFound)

	_, err = eng.ResolvePublicKey("../etc/passwd")
	require.ErrorIs(t, err, serrors.ErrUnknownRecipient)
}

func TestResolveMalformedPublicKey(t *testing.T) {
	for name := range engines() {
		t.Run(name, func(t *testing.T) {
			kr := testutil.NewKeyring(t)
			require.NoError(t, os.WriteFile(kr.PublicKeyPath("broken"), []byte("not a key"), 0600))
			eng, err := engine.New(name, kr)
			require.NoError(t, err)
			_, err = eng.ResolvePublicKey("broken")
			require.ErrorIs(t, err, serrors.ErrInvalidPublicKey)
		})
	}
}

func TestCorruptPrivateKeyFailsOnUse(t *testing.T) {
	eng, kr := testutil.BoxKeyring(t, []string{"hostA"}, "hostA")
	pub, err := eng.ResolvePublicKey("hostA")
	require.NoError(t, err)
	share, err := eng.SealTo([]byte("data key"), pub)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(kr.PrivateKeyPath("hostA"), []byte("{}"), 0600))
	priv, ok := eng.LocalPrivateKeyFor("hostA")
	require.True(t, ok, "presence is decided before parsing")
	_, err = eng.UnsealWith(share, priv)
	require.ErrorIs(t, err, serrors.ErrInvalidPrivateKey)
}

func TestForeignKeyTypesRejected(t *testing.T) {
	kr := testutil.NewKeyring(t)
	testutil.WriteBoxKey(t, kr, "hostA", true)
	box := engine.NewBox(kr)
	age := engine.NewAge(kr)

	pub, err := box.ResolvePublicKey("hostA")
	require.NoError(t, err)
	_, err = age.SealTo([]byte("x"), pub)
	require.ErrorIs(t, err, serrors.ErrInvalidPublicKey)

	priv, ok := box.LocalPrivateKeyFor("hostA")
	require.True(t, ok)
	_, err = age.UnsealWith([]byte("x"), priv)
	require.ErrorIs(t, err, serrors.ErrInvalidPrivateKey)
}

func TestUnknownEngine(t *testing.T) {
	_, err := engine.New("gpg2", engine.Keyring{})
	require.ErrorIs(t, err, serrors.ErrUnknownEngine)
	require.Equal(t, []string{"age", "box", "pgp", "rsa"}, engine.Names())
}

func TestListIdentifiers(t *testing.T) {
	_, kr := testutil.BoxKeyring(t, []string{"hostB", "hostA", "user-ben"})
	require.NoError(t, os.WriteFile(kr.PublicDir+"/README", []byte("ignored"), 0600))
	require.NoError(t, os.WriteFile(kr.PublicDir+"/.hidden.pub", []byte("ignored"), 0600))

	ids, err := kr.ListIdentifiers()
	require.NoError(t, err)
	require.Equal(t, []string{"hostA", "hostB", "user-ben"}, ids)

	empty := engine.Keyring{PublicDir: kr.PublicDir + "/missing"}
	ids, err = empty.ListIdentifiers()
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestRSAOpenSSHKeys(t *testing.T) {
	kr := testutil.NewKeyring(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	sshPub, err := ssh.NewPublicKey(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(kr.PublicKeyPath("hostA"), ssh.MarshalAuthorizedKey(sshPub), 0600))

	block, err := ssh.MarshalPrivateKeyWithPassphrase(key, "hostA", []byte("hunter2"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(kr.PrivateKeyPath("hostA"), pem.EncodeToMemory(block), 0600))

	t.Run("without passphrase source", func(t *testing.T) {
		eng := engine.NewRSA(kr)
		pub, err := eng.ResolvePublicKey("hostA")
		require.NoError(t, err)
		share, err := eng.SealTo([]byte("data key"), pub)
		require.NoError(t, err)
		priv, ok := eng.LocalPrivateKeyFor("hostA")
		require.True(t, ok)
		_, err = eng.UnsealWith(share, priv)
		require.ErrorIs(t, err, serrors.ErrInvalidPrivateKey)
	})

	t.Run("with passphrase source", func(t *testing.T) {
		withPass := kr
		withPass.Passphrase = func(id string) ([]byte, error) {
			require.Equal(t, "hostA", id)
			return []byte("hunter2"), nil
		}
		eng := engine.NewRSA(withPass)
		pub, err := eng.ResolvePublicKey("hostA")
		require.NoError(t, err)
		share, err := eng.SealTo([]byte("data key"), pub)
		require.NoError(t, err)
		priv, ok := eng.LocalPrivateKeyFor("hostA")
		require.True(t, ok)
		got, err := eng.UnsealWith(share, priv)
		require.NoError(t, err)
		require.Equal(t, []byte("data key"), got)
	})

	t.Run("passphrase source error", func(t *testing.T) {
		failing := kr
		failing.Passphrase = func(string) ([]byte, error) { return nil, errors.New("no tty") }
		eng := engine.NewRSA(failing)
		priv, ok := eng.LocalPrivateKeyFor("hostA")
		require.True(t, ok)
		_, err := eng.UnsealWith([]byte("irrelevant"), priv)
		require.ErrorIs(t, err, serrors.ErrInvalidPrivateKey)
	})
}
