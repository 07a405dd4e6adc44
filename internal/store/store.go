// Package store persists envelopes under a root directory.
//
// Each secret lives at <root>/<name>.secret. Writes are staged in a
// temporary file next to the destination, synced, read back and parsed, and
// only then renamed over the destination, so a reader never observes a
// partially written envelope and a failed write leaves the old one intact.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nixsecrets/nixos-secrets/internal/envelope"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

const (
	// Extension is appended to a secret name to form its file name.
	Extension = ".secret"

	tempPrefix   = ".tmp-"
	lockFileName = ".lock"
	lockRetry    = 100 * time.Millisecond
)

type Store struct {
	fs   afero.Fs
	root string
}

// New returns a store rooted at root on fs. The directory is created on
// first write.
func New(fsys afero.Fs, root string) *Store {
	return &Store{fs: fsys, root: filepath.Clean(root)}
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Fs returns the filesystem the store writes to.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Path returns the file path for the secret name.
func (s *Store) Path(name string) (string, error) {
	if err := manifest.ValidateSecretName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(name)+Extension), nil
}

// Exists reports whether an envelope is stored for name.
func (s *Store) Exists(name string) (bool, error) {
	p, err := s.Path(name)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(s.fs, p)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", p, err)
	}
	return ok, nil
}

// Read loads and parses the envelope for name. A missing file is reported as
// ErrSecretNotFound and an unparseable one as ErrMalformedEnvelope.
func (s *Store) Read(name string) (*envelope.Envelope, error) {
	p, err := s.Path(name)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", serrors.ErrSecretNotFound, name)
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	env, err := envelope.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return env, nil
}

// Write atomically replaces the envelope for name.
func (s *Store) Write(name string, env *envelope.Envelope) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	data, err := envelope.Serialize(env)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPrefix+filepath.Base(p)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	promoted := false
	defer func() {
		if !promoted {
			_ = s.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	written, err := afero.ReadFile(s.fs, tmpName)
	if err != nil {
		return fmt.Errorf("failed to read back %s: %w", tmpName, err)
	}
	if !bytes.Equal(written, data) {
		return fmt.Errorf("read back of %s does not match what was written", tmpName)
	}
	if _, err := envelope.Parse(written); err != nil {
		return fmt.Errorf("read back of %s: %w", tmpName, err)
	}

	if err := s.fs.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := s.fs.Rename(tmpName, p); err != nil {
		return fmt.Errorf("failed to replace %s: %w", p, err)
	}
	promoted = true
	return nil
}

// Delete removes the envelope for name.
func (s *Store) Delete(name string) error {
	p, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", serrors.ErrSecretNotFound, name)
		}
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	return nil
}

// List returns the names of every stored secret, sorted. Hidden files and
// directories, including in-flight temporary files, are skipped.
func (s *Store) List() ([]string, error) {
	var names []string
	err := afero.Walk(s.fs, s.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if p == s.root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == s.root {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), Extension) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), Extension)
		if manifest.ValidateSecretName(name) == nil {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.root, err)
	}
	sort.Strings(names)
	return names, nil
}

// TempFiles returns the temporary files left behind by interrupted writes,
// relative to the store root.
func (s *Store) TempFiles() ([]string, error) {
	var found []string
	err := afero.Walk(s.fs, s.root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			if p == s.root && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		found = append(found, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}
	sort.Strings(found)
	return found, nil
}

// RemoveTemp deletes a temporary file returned by TempFiles.
func (s *Store) RemoveTemp(rel string) error {
	if !strings.HasPrefix(path.Base(rel), tempPrefix) || strings.Contains(rel, "..") {
		return fmt.Errorf("%s is not a temporary file", rel)
	}
	p := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// Lock takes the store's advisory lock, waiting until ctx is done. The
// returned function releases it. Only stores on the OS filesystem are
// locked; other filesystems are private to the process.
func (s *Store) Lock(ctx context.Context) (func() error, error) {
	if _, ok := s.fs.(*afero.OsFs); !ok {
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(s.root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", s.root, err)
	}

	lockFilePath := filepath.Join(s.root, lockFileName)
	lock := flock.New(lockFilePath)
	ok, err := lock.TryLockContext(ctx, lockRetry)
	if !ok {
		if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %s", serrors.ErrStoreLocked, lockFilePath)
		}
		return nil, fmt.Errorf("could not acquire lock %s: %w", lockFilePath, err)
	}
	return lock.Close, nil
}
