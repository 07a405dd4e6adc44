package testutil

import (
	"errors"
	"os"
	"sync/atomic"

	"github.com/nixsecrets/nixos-secrets/internal/engine"

	"github.com/spf13/afero"
)

// ErrInjected is returned by every injected fault.
var ErrInjected = errors.New("injected fault")

// FaultyEngine wraps an engine and fails selected calls.
type FaultyEngine struct {
	engine.Engine

	// FailSeal fails every SealTo call when set.
	FailSeal atomic.Bool
	// FailUnseal fails every UnsealWith call when set.
	FailUnseal atomic.Bool

	Seals   atomic.Int64
	Unseals atomic.Int64
}

func NewFaultyEngine(inner engine.Engine) *FaultyEngine {
	return &FaultyEngine{Engine: inner}
}

func (f *FaultyEngine) SealTo(plaintext []byte, pub engine.PublicKey) ([]byte, error) {
	f.Seals.Add(1)
	if f.FailSeal.Load() {
		return nil, ErrInjected
	}
	return f.Engine.SealTo(plaintext, pub)
}

func (f *FaultyEngine) UnsealWith(share []byte, priv engine.PrivateKey) ([]byte, error) {
	f.Unseals.Add(1)
	if f.FailUnseal.Load() {
		return nil, ErrInjected
	}
	return f.Engine.UnsealWith(share, priv)
}

// FaultyFs wraps an afero.Fs and fails selected mutations.
type FaultyFs struct {
	afero.Fs

	FailRename atomic.Bool
	FailCreate atomic.Bool
}

func NewFaultyFs(inner afero.Fs) *FaultyFs {
	return &FaultyFs{Fs: inner}
}

func (f *FaultyFs) Rename(oldname, newname string) error {
	if f.FailRename.Load() {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FaultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.FailCreate.Load() && flag&os.O_CREATE != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrInjected}
	}
	return f.Fs.OpenFile(name, flag, perm)
}
