// Package manifest reads the declaration of which secrets exist and who may
// read each one.
//
// A manifest is a TOML or YAML file:
//
//	[[secret]]
//	name = "db-password"
//	recipients = ["hostA", "hostB"]
//
//	secrets:
//	  - name: db-password
//	    recipients: [hostA, hostB]
//
// The manifest is read-only input; nothing in this package writes it.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nixsecrets/nixos-secrets/internal/configs"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/registry"

	"gopkg.in/yaml.v3"
)

// Entry declares one secret and its intended recipients.
type Entry struct {
	Name       string   `toml:"name" yaml:"name"`
	Recipients []string `toml:"recipients" yaml:"recipients"`
}

type document struct {
	Secrets []Entry `toml:"secret" yaml:"secrets"`
}

// Manifest is an ordered list of secret declarations.
type Manifest struct {
	path    string
	entries []Entry
}

// New builds a manifest from entries, in order.
func New(entries []Entry) *Manifest {
	return &Manifest{entries: copyEntries(entries)}
}

// Load reads a manifest file. The format is chosen by extension: .yaml and
// .yml are YAML, anything else is TOML.
func Load(path string) (*Manifest, error) {
	var doc document

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
	default:
		if err := configs.LoadTOML(path, &doc); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read manifest: %w", err)
			}
			return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
		}
	}

	return &Manifest{path: path, entries: doc.Secrets}, nil
}

// Path returns the file the manifest was loaded from, if any.
func (m *Manifest) Path() string {
	return m.path
}

// Entries returns the declarations in file order. The returned slice is a
// copy, so callers may iterate it as often as they like.
func (m *Manifest) Entries() []Entry {
	return copyEntries(m.entries)
}

// Lookup returns the first entry named name.
func (m *Manifest) Lookup(name string) (Entry, bool) {
	for _, e := range m.entries {
		if e.Name == name {
			return Entry{Name: e.Name, Recipients: append([]string(nil), e.Recipients...)}, true
		}
	}
	return Entry{}, false
}

// Names returns every declared secret name in order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		names = append(names, e.Name)
	}
	return names
}

// RecipientIDs returns every recipient mentioned in the manifest, in order
// of first appearance.
func (m *Manifest) RecipientIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range m.entries {
		for _, id := range e.Recipients {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Validate checks the manifest against reg and returns every problem found.
// A nil result means every entry can be processed.
func (m *Manifest) Validate(reg *registry.Registry) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]int)

	for i, e := range m.entries {
		if err := ValidateSecretName(e.Name); err != nil {
			errs = append(errs, &ValidationError{Index: i, Name: e.Name, Err: err})
			continue
		}
		if first, dup := seen[e.Name]; dup {
			errs = append(errs, &ValidationError{
				Index: i,
				Name:  e.Name,
				Err:   fmt.Errorf("%w: also declared at entry %d", serrors.ErrDuplicateSecret, first+1),
			})
			continue
		}
		seen[e.Name] = i

		if len(e.Recipients) == 0 {
			errs = append(errs, &ValidationError{Index: i, Name: e.Name, Err: serrors.ErrNoRecipients})
			continue
		}
		for _, id := range e.Recipients {
			if _, err := reg.Resolve(id); err != nil {
				errs = append(errs, &ValidationError{Index: i, Name: e.Name, Recipient: id, Err: err})
			}
		}
	}

	return errs
}

// ValidationError describes one problem with one manifest entry.
type ValidationError struct {
	// Index is the zero-based position of the entry in the manifest.
	Index     int
	Name      string
	Recipient string
	Err       error
}

func (e *ValidationError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("entry %d", e.Index+1)
	}
	if e.Recipient != "" {
		return fmt.Sprintf("%s: recipient %s: %v", name, e.Recipient, e.Err)
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidateSecretName checks that name maps to a path inside the store.
func ValidateSecretName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is empty", serrors.ErrInvalidSecretName)
	}
	if strings.ContainsRune(name, '\\') {
		return fmt.Errorf("%w: %q contains a backslash", serrors.ErrInvalidSecretName, name)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: %q is absolute", serrors.ErrInvalidSecretName, name)
	}
	for _, seg := range strings.Split(name, "/") {
		switch {
		case seg == "":
			return fmt.Errorf("%w: %q has an empty path segment", serrors.ErrInvalidSecretName, name)
		case seg == "." || seg == "..":
			return fmt.Errorf("%w: %q has a relative path segment", serrors.ErrInvalidSecretName, name)
		case strings.HasPrefix(seg, "."):
			return fmt.Errorf("%w: %q has a hidden path segment", serrors.ErrInvalidSecretName, name)
		}
	}
	return nil
}

func copyEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Name: e.Name, Recipients: append([]string(nil), e.Recipients...)}
	}
	return out
}
