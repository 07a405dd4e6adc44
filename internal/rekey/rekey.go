// Package rekey decides, per secret, whether the stored envelope matches the
// manifest and brings it in line when it does not.
//
// Every secret is in one of four states:
//
//   - Absent: declared but never written; created from a plaintext source
//   - Consistent: sealed to exactly the declared recipients; left alone
//   - Stale: sealed to a different set; decrypted locally and resealed
//   - Orphaned: stored but no longer declared; reported, never touched
//
// Plaintext only ever exists in memory and is zeroed once resealed. The old
// envelope stays in place until the new one has been written and verified.
package rekey

import (
	"context"
	"errors"
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/engine"
	"github.com/nixsecrets/nixos-secrets/internal/envelope"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
	"github.com/nixsecrets/nixos-secrets/internal/registry"
	"github.com/nixsecrets/nixos-secrets/internal/store"
)

// State is where a secret stands relative to the manifest.
type State int

const (
	// StateUnknown means the state could not be determined, for example
	// because the stored envelope is unreadable.
	StateUnknown State = iota
	StateAbsent
	StateConsistent
	StateStale
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConsistent:
		return "consistent"
	case StateStale:
		return "stale"
	case StateOrphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Outcome is what happened to a secret during a run.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeCreated
	OutcomeRekeyed
	OutcomeSkipped
	OutcomeFailed
	OutcomeOrphaned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeRekeyed:
		return "rekeyed"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeOrphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports the processing of one secret.
type Result struct {
	Name    string
	State   State
	Outcome Outcome
	// Err is the reason for a skipped, failed or orphaned outcome.
	Err error
	// Recipients are the declared recipient ids.
	Recipients []string
	// DecryptedWith names the local recipient used to read a stale secret.
	DecryptedWith string
	// Planned is set when the outcome was computed without writing.
	Planned bool
}

// PlaintextSource supplies the initial plaintext for an absent secret. It
// returns ErrPlaintextUnavailable when it has nothing for name.
type PlaintextSource func(name string) ([]byte, error)

// Engine evaluates and repairs secrets. It is safe for concurrent use as
// long as no two goroutines process the same secret.
type Engine struct {
	Crypto    engine.Engine
	Registry  *registry.Registry
	Store     *store.Store
	Plaintext PlaintextSource
	DryRun    bool
}

// Evaluate classifies a declared secret without modifying anything. The
// returned envelope is nil for absent secrets.
func (e *Engine) Evaluate(entry manifest.Entry) (State, *envelope.Envelope, []registry.Recipient, error) {
	env, err := e.Store.Read(entry.Name)
	state := StateUnknown
	switch {
	case errors.Is(err, serrors.ErrSecretNotFound):
		state = StateAbsent
	case err != nil:
		return StateUnknown, nil, nil, err
	}

	recipients, err := e.Registry.ResolveAll(entry.Recipients)
	if err != nil {
		return state, env, nil, err
	}
	if len(recipients) == 0 {
		return state, env, nil, fmt.Errorf("%w: %s", serrors.ErrNoRecipients, entry.Name)
	}
	if state == StateAbsent {
		return state, nil, recipients, nil
	}

	fps := make([]string, len(recipients))
	for i, r := range recipients {
		fps[i] = r.Fingerprint
	}
	if env.SameRecipients(fps) {
		return StateConsistent, env, recipients, nil
	}
	return StateStale, env, recipients, nil
}

// Process brings one declared secret in line with its manifest entry.
func (e *Engine) Process(ctx context.Context, entry manifest.Entry) Result {
	res := Result{
		Name:       entry.Name,
		Recipients: append([]string(nil), entry.Recipients...),
		Planned:    e.DryRun,
	}
	if err := ctx.Err(); err != nil {
		return res.fail(err)
	}

	state, env, recipients, err := e.Evaluate(entry)
	res.State = state
	if err != nil {
		return res.fail(err)
	}

	switch state {
	case StateConsistent:
		res.Outcome = OutcomeUnchanged
		return res
	case StateAbsent:
		return e.create(res, recipients)
	default:
		return e.rekey(res, env, recipients)
	}
}

func (e *Engine) create(res Result, recipients []registry.Recipient) Result {
	if e.Plaintext == nil {
		return res.skip(fmt.Errorf("%w: %s", serrors.ErrPlaintextUnavailable, res.Name))
	}
	if e.DryRun {
		res.Outcome = OutcomeCreated
		return res
	}

	plaintext, err := e.Plaintext(res.Name)
	if err != nil {
		if errors.Is(err, serrors.ErrPlaintextUnavailable) {
			return res.skip(err)
		}
		return res.fail(err)
	}
	defer envelope.Wipe(plaintext)

	if err := e.seal(res.Name, plaintext, recipients); err != nil {
		return res.fail(err)
	}
	res.Outcome = OutcomeCreated
	return res
}

func (e *Engine) rekey(res Result, env *envelope.Envelope, recipients []registry.Recipient) Result {
	decryptors := e.Registry.Decryptors(env.Fingerprints())
	if len(decryptors) == 0 {
		return res.skip(fmt.Errorf("%w: %s", serrors.ErrNoAuthorizedLocalKey, res.Name))
	}
	with := decryptors[0]
	res.DecryptedWith = with.ID
	if e.DryRun {
		res.Outcome = OutcomeRekeyed
		return res
	}

	plaintext, err := envelope.Decode(e.Crypto, env, with)
	if err != nil {
		return res.fail(err)
	}
	defer envelope.Wipe(plaintext)

	if err := e.seal(res.Name, plaintext, recipients); err != nil {
		return res.fail(err)
	}
	res.Outcome = OutcomeRekeyed
	return res
}

func (e *Engine) seal(name string, plaintext []byte, recipients []registry.Recipient) error {
	env, err := envelope.Encode(e.Crypto, plaintext, recipients)
	if err != nil {
		return err
	}
	return e.Store.Write(name, env)
}

// Orphan reports a stored secret that the manifest no longer declares.
func (e *Engine) Orphan(name string) Result {
	return Result{
		Name:    name,
		State:   StateOrphaned,
		Outcome: OutcomeOrphaned,
		Err:     fmt.Errorf("%w: %s", serrors.ErrOrphanedSecret, name),
		Planned: e.DryRun,
	}
}

// Seal encrypts plaintext to the given recipient ids and stores it under
// name, replacing any existing envelope.
func (e *Engine) Seal(name string, plaintext []byte, recipientIDs []string) error {
	recipients, err := e.Registry.ResolveAll(recipientIDs)
	if err != nil {
		return err
	}
	return e.seal(name, plaintext, recipients)
}

// Open decrypts a stored secret with the first local recipient key that
// can read it. The caller owns the returned plaintext and should wipe it.
func (e *Engine) Open(name string) ([]byte, string, error) {
	env, err := e.Store.Read(name)
	if err != nil {
		return nil, "", err
	}
	decryptors := e.Registry.Decryptors(env.Fingerprints())
	if len(decryptors) == 0 {
		return nil, "", fmt.Errorf("%w: %s", serrors.ErrNoAuthorizedLocalKey, name)
	}
	plaintext, err := envelope.Decode(e.Crypto, env, decryptors[0])
	if err != nil {
		return nil, "", err
	}
	return plaintext, decryptors[0].ID, nil
}

func (r Result) fail(err error) Result {
	r.Outcome = OutcomeFailed
	r.Err = err
	return r
}

func (r Result) skip(err error) Result {
	r.Outcome = OutcomeSkipped
	r.Err = err
	return r
}
