package configs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nixsecrets/nixos-secrets/internal/utils"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// FileName is the configuration file looked up in the project root and
	// the user config directory.
	FileName = "nixos-secrets.toml"

	// EnvPrefix prefixes every environment override, e.g.
	// NIXOS_SECRETS_STORE_DIR.
	EnvPrefix = "NIXOS_SECRETS"

	OrphansReport = "report"
	OrphansFail   = "fail"
)

type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Manifest ManifestConfig `mapstructure:"manifest"`
	Keyring  KeyringConfig  `mapstructure:"keyring"`
	Rekey    RekeyConfig    `mapstructure:"rekey"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type ManifestConfig struct {
	Path string `mapstructure:"path"`
}

type KeyringConfig struct {
	Engine     string `mapstructure:"engine"`
	PublicDir  string `mapstructure:"public_dir"`
	PrivateDir string `mapstructure:"private_dir"`
	// PassphraseEnv names an environment variable holding the private key
	// passphrase, for unattended runs.
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

type RekeyConfig struct {
	Workers int    `mapstructure:"workers"`
	Orphans string `mapstructure:"orphans"`
}

// LoadOptions controls where configuration comes from.
type LoadOptions struct {
	// ConfigFile is an explicit configuration file. When empty, FileName is
	// searched for in the project root and the user config directory.
	ConfigFile string

	// Flags are bound to configuration keys through FlagKeys.
	Flags *pflag.FlagSet

	// FlagKeys maps flag names to configuration keys.
	FlagKeys map[string]string
}

// Load reads configuration from defaults, the config file, NIXOS_SECRETS_*
// environment variables and command line flags, in increasing priority.
// Relative paths are resolved against the directory holding the config
// file, or the project root when there is none.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	settings, err := DefaultSettings()
	if err != nil {
		return nil, err
	}
	setDefaults(v, settings)

	projectRoot, err := utils.FindProjectRoot(FileName, settings.ManifestName)
	if err != nil {
		return nil, err
	}

	v.SetConfigType("toml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		if projectRoot != "" {
			v.AddConfigPath(projectRoot)
		}
		v.AddConfigPath(".")
		v.AddConfigPath(settings.UserConfigDir)
	}

	v.SetEnvPrefix(EnvPrefix) // env vars like NIXOS_SECRETS_STORE_DIR
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(key, f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	baseDir := projectRoot
	if cfg.File != "" {
		baseDir = filepath.Dir(cfg.File)
	}
	if baseDir == "" {
		if baseDir, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	cfg.resolvePaths(baseDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, s *Settings) {
	v.SetDefault("store.dir", "secrets")
	v.SetDefault("manifest.path", s.ManifestName)
	v.SetDefault("keyring.engine", "age")
	v.SetDefault("keyring.public_dir", filepath.Join("keys", "public"))
	v.SetDefault("keyring.private_dir", s.UserKeysDir)
	v.SetDefault("keyring.passphrase_env", "")
	v.SetDefault("rekey.workers", 4)
	v.SetDefault("rekey.orphans", OrphansReport)
}

func (c *Config) resolvePaths(baseDir string) {
	for _, p := range []*string{&c.Store.Dir, &c.Manifest.Path, &c.Keyring.PublicDir, &c.Keyring.PrivateDir} {
		*p = expandHome(*p)
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// Validate checks values that cannot be checked by type alone.
func (c *Config) Validate() error {
	if c.Rekey.Workers < 1 {
		return fmt.Errorf("rekey.workers must be at least 1, got %d", c.Rekey.Workers)
	}
	switch c.Rekey.Orphans {
	case OrphansReport, OrphansFail:
	default:
		return fmt.Errorf("rekey.orphans must be %q or %q, got %q", OrphansReport, OrphansFail, c.Rekey.Orphans)
	}
	if c.Keyring.Engine == "" {
		return fmt.Errorf("keyring.engine must be set")
	}
	return nil
}

// Passphrase returns the passphrase from the configured environment
// variable, if both are set.
func (c *Config) Passphrase() ([]byte, bool) {
	if c.Keyring.PassphraseEnv == "" {
		return nil, false
	}
	value, ok := os.LookupEnv(c.Keyring.PassphraseEnv)
	if !ok {
		return nil, false
	}
	return []byte(value), true
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
