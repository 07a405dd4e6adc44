package configs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

// isolate points the user config and data directories at a temp dir and
// moves into an empty working directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))

	work := filepath.Join(home, "work")
	if err := os.MkdirAll(work, 0755); err != nil {
		t.Fatalf("Failed to create work dir: %v", err)
	}
	originalWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err := os.Chdir(work); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(originalWd)
	})

	resolved, err := filepath.EvalSymlinks(work)
	if err != nil {
		t.Fatalf("Failed to resolve work dir: %v", err)
	}
	return resolved
}

func resolve(t *testing.T, p string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatalf("Failed to resolve %s: %v", p, err)
	}
	return resolved
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != "" {
		t.Errorf("Expected no config file, got %s", cfg.File)
	}
	if cfg.Keyring.Engine != "age" {
		t.Errorf("Expected engine age, got %s", cfg.Keyring.Engine)
	}
	if cfg.Rekey.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Rekey.Workers)
	}
	if cfg.Rekey.Orphans != OrphansReport {
		t.Errorf("Expected orphans %s, got %s", OrphansReport, cfg.Rekey.Orphans)
	}
	if !strings.HasSuffix(cfg.Store.Dir, filepath.Join("work", "secrets")) {
		t.Errorf("Expected store dir under the working directory, got %s", cfg.Store.Dir)
	}
	if !strings.HasSuffix(cfg.Manifest.Path, filepath.Join("work", "secrets.toml")) {
		t.Errorf("Unexpected manifest path %s", cfg.Manifest.Path)
	}
	if !strings.HasSuffix(cfg.Keyring.PrivateDir, filepath.Join("data", "nixos-secrets", "keys")) {
		t.Errorf("Expected private dir under XDG_DATA_HOME, got %s", cfg.Keyring.PrivateDir)
	}
}

func TestLoadFromProjectFile(t *testing.T) {
	work := isolate(t)
	body := `
[store]
dir = "enc"

[keyring]
engine = "box"
public_dir = "/etc/nixos-secrets/public"

[rekey]
workers = 2
orphans = "fail"
`
	if err := os.WriteFile(filepath.Join(work, FileName), []byte(body), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	nested := filepath.Join(work, "hosts")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}

	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if resolve(t, cfg.File) != filepath.Join(work, FileName) {
		t.Errorf("Expected config file %s, got %s", filepath.Join(work, FileName), cfg.File)
	}
	if resolve(t, filepath.Dir(cfg.Store.Dir)) != work || filepath.Base(cfg.Store.Dir) != "enc" {
		t.Errorf("Expected store dir relative to the config file, got %s", cfg.Store.Dir)
	}
	if cfg.Keyring.PublicDir != "/etc/nixos-secrets/public" {
		t.Errorf("Expected absolute public dir to be kept, got %s", cfg.Keyring.PublicDir)
	}
	if cfg.Keyring.Engine != "box" || cfg.Rekey.Workers != 2 || cfg.Rekey.Orphans != OrphansFail {
		t.Errorf("Config file values not applied: %+v", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	work := isolate(t)
	configFile := filepath.Join(work, "custom.toml")
	if err := os.WriteFile(configFile, []byte("[keyring]\nengine = \"box\"\n[rekey]\nworkers = 2\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("NIXOS_SECRETS_KEYRING_ENGINE", "rsa")
	t.Setenv("NIXOS_SECRETS_REKEY_WORKERS", "3")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("engine", "", "")
	flags.Int("workers", 0, "")
	flags.String("store", "", "")
	if err := flags.Parse([]string{"--workers", "8"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := Load(LoadOptions{
		ConfigFile: configFile,
		Flags:      flags,
		FlagKeys: map[string]string{
			"engine":  "keyring.engine",
			"workers": "rekey.workers",
			"store":   "store.dir",
		},
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Keyring.Engine != "rsa" {
		t.Errorf("Expected environment to override the file, got engine %s", cfg.Keyring.Engine)
	}
	if cfg.Rekey.Workers != 8 {
		t.Errorf("Expected flag to override the environment, got %d workers", cfg.Rekey.Workers)
	}
	if resolve(t, filepath.Dir(cfg.Store.Dir)) != work || filepath.Base(cfg.Store.Dir) != "secrets" {
		t.Errorf("Expected unset flag to leave the default, got %s", cfg.Store.Dir)
	}
}

func TestLoadErrors(t *testing.T) {
	work := isolate(t)

	if _, err := Load(LoadOptions{ConfigFile: filepath.Join(work, "missing.toml")}); err == nil {
		t.Error("Expected error for a missing explicit config file")
	}

	bad := filepath.Join(work, "bad.toml")
	if err := os.WriteFile(bad, []byte("[rekey]\norphans = \"delete\"\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(LoadOptions{ConfigFile: bad}); err == nil {
		t.Error("Expected error for an invalid orphan policy")
	}

	if err := os.WriteFile(bad, []byte("[rekey]\nworkers = 0\n"), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := Load(LoadOptions{ConfigFile: bad}); err == nil {
		t.Error("Expected error for zero workers")
	}
}

func TestPassphrase(t *testing.T) {
	cfg := &Config{}
	if _, ok := cfg.Passphrase(); ok {
		t.Error("Expected no passphrase without passphrase_env")
	}

	cfg.Keyring.PassphraseEnv = "TEST_NIXOS_SECRETS_PASSPHRASE"
	if _, ok := cfg.Passphrase(); ok {
		t.Error("Expected no passphrase when the variable is unset")
	}

	t.Setenv("TEST_NIXOS_SECRETS_PASSPHRASE", "hunter2")
	got, ok := cfg.Passphrase()
	if !ok || string(got) != "hunter2" {
		t.Errorf("Expected passphrase hunter2, got %q (%v)", got, ok)
	}
}
