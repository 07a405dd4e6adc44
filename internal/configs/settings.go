package configs

import (
	"fmt"
	"os"
	"path/filepath"
)

// Settings are the per-user locations that do not depend on the project.
type Settings struct {
	UserKeysDir   string
	UserConfigDir string
	ManifestName  string
}

// DefaultSettings derives the per-user locations from the environment.
func DefaultSettings() (*Settings, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error getting home directory: %w", err)
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error getting config directory: %w", err)
	}

	dataDir := os.Getenv("XDG_DATA_HOME")

	if dataDir == "" {
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return &Settings{
		UserKeysDir:   filepath.Join(dataDir, "nixos-secrets", "keys"),
		UserConfigDir: filepath.Join(configDir, "nixos-secrets"),
		ManifestName:  "secrets.toml",
	}, nil
}
