package rekey_test

import (
	"context"
	"testing"

	"github.com/nixsecrets/nixos-secrets/internal/engine"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
	"github.com/nixsecrets/nixos-secrets/internal/registry"
	"github.com/nixsecrets/nixos-secrets/internal/rekey"
	"github.com/nixsecrets/nixos-secrets/internal/store"
	"github.com/nixsecrets/nixos-secrets/internal/testutil"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hosts = []string{"hostA", "hostB", "hostC"}

type fixture struct {
	fs    afero.Fs
	store *store.Store
	kr    engine.Keyring
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kr := testutil.NewKeyring(t)
	for _, id := range hosts {
		testutil.WriteBoxKey(t, kr, id, true)
	}
	fs := afero.NewMemMapFs()
	return &fixture{fs: fs, store: store.New(fs, "/secrets"), kr: kr}
}

// engineWith returns a rekey engine whose keyring only holds the private keys
// of the given hosts.
func (f *fixture) engineWith(t *testing.T, local ...string) *rekey.Engine {
	t.Helper()
	kr := testutil.NewKeyring(t)
	kr.PublicDir = f.kr.PublicDir
	for _, id := range local {
		testutil.CopyFile(t, f.kr.PrivateKeyPath(id), kr.PrivateKeyPath(id))
	}
	eng := engine.NewBox(kr)
	return &rekey.Engine{
		Crypto:   eng,
		Registry: registry.New(eng, hosts),
		Store:    f.store,
	}
}

func (f *fixture) raw(t *testing.T, name string) []byte {
	t.Helper()
	data, err := afero.ReadFile(f.fs, "/secrets/"+name+".secret")
	require.NoError(t, err)
	return data
}

func (f *fixture) open(t *testing.T, name, as string) string {
	t.Helper()
	plaintext, with, err := f.engineWith(t, as).Open(name)
	require.NoError(t, err)
	require.Equal(t, as, with)
	return string(plaintext)
}

func TestStaleSecretIsRekeyed(t *testing.T) {
	f := newFixture(t)
	e := f.engineWith(t, "hostA")
	require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA", "hostB"}))

	res := e.Process(context.Background(), manifest.Entry{
		Name:       "db-password",
		Recipients: []string{"hostA", "hostB", "hostC"},
	})
	require.NoError(t, res.Err)
	assert.Equal(t, rekey.OutcomeRekeyed, res.Outcome)
	assert.Equal(t, rekey.StateStale, res.State)
	assert.Equal(t, "hostA", res.DecryptedWith)

	for _, id := range hosts {
		assert.Equal(t, "hunter2", f.open(t, "db-password", id), id)
	}
}

func TestRecipientRemovedLosesAccess(t *testing.T) {
	f := newFixture(t)
	e := f.engineWith(t, "hostA")
	require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA", "hostB"}))

	res := e.Process(context.Background(), manifest.Entry{Name: "db-password", Recipients: []string{"hostA"}})
	require.Equal(t, rekey.OutcomeRekeyed, res.Outcome)

	_, _, err := f.engineWith(t, "hostB").Open("db-password")
	require.ErrorIs(t, err, serrors.ErrNoAuthorizedLocalKey)
}

func TestStaleWithoutLocalKeyIsSkipped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engineWith(t, "hostA").Seal("db-password", []byte("hunter2"), []string{"hostA"}))
	before := f.raw(t, "db-password")

	e := f.engineWith(t, "hostB")
	res := e.Process(context.Background(), manifest.Entry{Name: "db-password", Recipients: []string{"hostA", "hostB"}})
	assert.Equal(t, rekey.OutcomeSkipped, res.Outcome)
	assert.Equal(t, rekey.StateStale, res.State)
	require.ErrorIs(t, res.Err, serrors.ErrNoAuthorizedLocalKey)
	assert.Equal(t, before, f.raw(t, "db-password"))
}

func TestAbsentSecretIsCreated(t *testing.T) {
	f := newFixture(t)
	e := f.engineWith(t)
	var handedOut []byte
	e.Plaintext = func(name string) ([]byte, error) {
		require.Equal(t, "api-token", name)
		handedOut = []byte("tok_123")
		return handedOut, nil
	}

	res := e.Process(context.Background(), manifest.Entry{Name: "api-token", Recipients: []string{"hostB"}})
	require.NoError(t, res.Err)
	assert.Equal(t, rekey.OutcomeCreated, res.Outcome)
	assert.Equal(t, rekey.StateAbsent, res.State)
	assert.Equal(t, make([]byte, len("tok_123")), handedOut, "plaintext must be zeroed after sealing")

	assert.Equal(t, "tok_123", f.open(t, "api-token", "hostB"))
}

func TestAbsentWithoutPlaintextIsSkipped(t *testing.T) {
	f := newFixture(t)
	e := f.engineWith(t, "hostA")

	res := e.Process(context.Background(), manifest.Entry{Name: "api-token", Recipients: []string{"hostA"}})
	assert.Equal(t, rekey.OutcomeSkipped, res.Outcome)
	require.ErrorIs(t, res.Err, serrors.ErrPlaintextUnavailable)

	e.Plaintext = func(string) ([]byte, error) { return nil, serrors.ErrPlaintextUnavailable }
	res = e.Process(context.Background(), manifest.Entry{Name: "api-token", Recipients: []string{"hostA"}})
	assert.Equal(t, rekey.OutcomeSkipped, res.Outcome)

	e.Plaintext = func(string) ([]byte, error) { return nil, testutil.ErrInjected }
	res = e.Process(context.Background(), manifest.Entry{Name: "api-token", Recipients: []string{"hostA"}})
	assert.Equal(t, rekey.OutcomeFailed, res.Outcome)

	ok, err := f.store.Exists("api-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRekeyIsIdempotent(t *testing.T) {
	f := newFixture(t)
	e := f.engineWith(t, "hostA")
	require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA"}))
	entry := manifest.Entry{Name: "db-password", Recipients: []string{"hostC", "hostA"}}

	require.Equal(t, rekey.OutcomeRekeyed, e.Process(context.Background(), entry).Outcome)
	after := f.raw(t, "db-password")

	res := e.Process(context.Background(), entry)
	assert.Equal(t, rekey.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, rekey.StateConsistent, res.State)
	assert.Equal(t, after, f.raw(t, "db-password"), "a consistent secret must not be rewritten")
}

func TestFailuresLeaveOldEnvelope(t *testing.T) {
	entry := manifest.Entry{Name: "db-password", Recipients: []string{"hostA", "hostB"}}

	t.Run("seal failure", func(t *testing.T) {
		f := newFixture(t)
		e := f.engineWith(t, "hostA")
		require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA"}))
		before := f.raw(t, "db-password")

		faulty := testutil.NewFaultyEngine(e.Crypto)
		faulty.FailSeal.Store(true)
		e.Crypto = faulty

		res := e.Process(context.Background(), entry)
		assert.Equal(t, rekey.OutcomeFailed, res.Outcome)
		assert.Equal(t, rekey.StateStale, res.State)
		require.ErrorIs(t, res.Err, serrors.ErrEncryptionFailure)
		assert.Equal(t, before, f.raw(t, "db-password"))
	})

	t.Run("unseal failure", func(t *testing.T) {
		f := newFixture(t)
		e := f.engineWith(t, "hostA")
		require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA"}))
		before := f.raw(t, "db-password")

		faulty := testutil.NewFaultyEngine(e.Crypto)
		faulty.FailUnseal.Store(true)
		e.Crypto = faulty

		res := e.Process(context.Background(), entry)
		assert.Equal(t, rekey.OutcomeFailed, res.Outcome)
		require.ErrorIs(t, res.Err, serrors.ErrDecryptionFailure)
		assert.Equal(t, before, f.raw(t, "db-password"))
	})

	t.Run("rename failure", func(t *testing.T) {
		f := newFixture(t)
		faultyFs := testutil.NewFaultyFs(f.fs)
		f.store = store.New(faultyFs, "/secrets")
		e := f.engineWith(t, "hostA")
		require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA"}))
		before := f.raw(t, "db-password")

		faultyFs.FailRename.Store(true)
		res := e.Process(context.Background(), entry)
		assert.Equal(t, rekey.OutcomeFailed, res.Outcome)
		require.ErrorIs(t, res.Err, testutil.ErrInjected)
		assert.Equal(t, before, f.raw(t, "db-password"))

		tmps, err := f.store.TempFiles()
		require.NoError(t, err)
		assert.Empty(t, tmps)
	})
}

func TestMalformedEnvelopeFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, afero.WriteFile(f.fs, "/secrets/db-password.secret", []byte("garbage"), 0644))

	res := f.engineWith(t, "hostA").Process(context.Background(), manifest.Entry{Name: "db-password", Recipients: []string{"hostA"}})
	assert.Equal(t, rekey.OutcomeFailed, res.Outcome)
	assert.Equal(t, rekey.StateUnknown, res.State)
	require.ErrorIs(t, res.Err, serrors.ErrMalformedEnvelope)
}

func TestUnknownRecipientFails(t *testing.T) {
	f := newFixture(t)
	res := f.engineWith(t, "hostA").Process(context.Background(), manifest.Entry{Name: "db-password", Recipients: []string{"hostZ"}})
	assert.Equal(t, rekey.OutcomeFailed, res.Outcome)
	assert.Equal(t, rekey.StateAbsent, res.State)
	require.ErrorIs(t, res.Err, serrors.ErrUnknownRecipient)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	e := f.engineWith(t, "hostA")
	require.NoError(t, e.Seal("db-password", []byte("hunter2"), []string{"hostA"}))
	before := f.raw(t, "db-password")

	e.DryRun = true
	e.Plaintext = func(string) ([]byte, error) {
		t.Fatal("dry run must not ask for plaintext")
		return nil, nil
	}

	res := e.Process(context.Background(), manifest.Entry{Name: "db-password", Recipients: []string{"hostA", "hostB"}})
	assert.Equal(t, rekey.OutcomeRekeyed, res.Outcome)
	assert.True(t, res.Planned)
	assert.Equal(t, before, f.raw(t, "db-password"))

	res = e.Process(context.Background(), manifest.Entry{Name: "api-token", Recipients: []string{"hostA"}})
	assert.Equal(t, rekey.OutcomeCreated, res.Outcome)
	ok, err := f.store.Exists("api-token")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCancelledContextFails(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engineWith(t, "hostA").Process(ctx, manifest.Entry{Name: "db-password", Recipients: []string{"hostA"}})
	assert.Equal(t, rekey.OutcomeFailed, res.Outcome)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestOrphan(t *testing.T) {
	f := newFixture(t)
	res := f.engineWith(t).Orphan("old-secret")
	assert.Equal(t, rekey.OutcomeOrphaned, res.Outcome)
	assert.Equal(t, rekey.StateOrphaned, res.State)
	require.ErrorIs(t, res.Err, serrors.ErrOrphanedSecret)
	assert.Equal(t, "orphaned", res.Outcome.String())
	assert.Equal(t, "orphaned", res.State.String())
}
