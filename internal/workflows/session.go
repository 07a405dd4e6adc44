package workflows

import (
	"fmt"
	"path/filepath"

	"github.com/nixsecrets/nixos-secrets/internal/audit"
	"github.com/nixsecrets/nixos-secrets/internal/configs"
	"github.com/nixsecrets/nixos-secrets/internal/engine"
	logger "github.com/nixsecrets/nixos-secrets/internal/logging"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
	"github.com/nixsecrets/nixos-secrets/internal/registry"
	"github.com/nixsecrets/nixos-secrets/internal/rekey"
	"github.com/nixsecrets/nixos-secrets/internal/store"

	"github.com/spf13/afero"
)

// Session bundles everything a workflow needs for one invocation. Build it
// with NewSession; tests may assemble one directly.
type Session struct {
	Crypto   engine.Engine
	Registry *registry.Registry
	Store    *store.Store
	Audit    *audit.Trail
	Log      logger.Logger
}

// SessionOptions overrides parts of the session wiring.
type SessionOptions struct {
	// Fs is the filesystem holding the store. Defaults to the OS filesystem.
	Fs afero.Fs

	// Passphrase unlocks protected private keys when the configuration does
	// not name a passphrase environment variable.
	Passphrase engine.PassphraseFunc
}

// NewSession wires configuration into a keyring, engine, registry and store.
//
// The registry resolves every identifier with a public key in the keyring,
// in sorted order, followed by identifiers only the manifest mentions. That
// order decides which local key is used when more than one could decrypt.
func NewSession(cfg *configs.Config, m *manifest.Manifest, log logger.Logger, opts SessionOptions) (*Session, error) {
	kr := engine.Keyring{
		PublicDir:  cfg.Keyring.PublicDir,
		PrivateDir: cfg.Keyring.PrivateDir,
		Passphrase: opts.Passphrase,
	}
	if pass, ok := cfg.Passphrase(); ok {
		kr.Passphrase = func(string) ([]byte, error) {
			return append([]byte(nil), pass...), nil
		}
	}

	eng, err := engine.New(cfg.Keyring.Engine, kr)
	if err != nil {
		return nil, err
	}

	ids, err := kr.ListIdentifiers()
	if err != nil {
		return nil, fmt.Errorf("listing public keys: %w", err)
	}
	ids = appendUnique(ids, m.RecipientIDs())
	log.Debugf("Resolving %d recipients with the %s engine", len(ids), eng.Name())

	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	return &Session{
		Crypto:   eng,
		Registry: registry.New(eng, ids),
		Store:    store.New(fsys, cfg.Store.Dir),
		Audit:    audit.NewTrail(fsys, filepath.Join(cfg.Store.Dir, audit.FileName)),
		Log:      log,
	}, nil
}

func (s *Session) rekeyEngine(dryRun bool, plaintext rekey.PlaintextSource) *rekey.Engine {
	return &rekey.Engine{
		Crypto:    s.Crypto,
		Registry:  s.Registry,
		Store:     s.Store,
		Plaintext: plaintext,
		DryRun:    dryRun,
	}
}

// record appends an audit entry, warning if the trail cannot be written.
func (s *Session) record(entry audit.Entry) {
	if err := s.Audit.Log(entry); err != nil {
		s.Log.Warnf("Failed to write audit log: %v", err)
	}
}

func appendUnique(ids []string, more []string) []string {
	seen := make(map[string]bool, len(ids)+len(more))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range more {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
