package cmd

import (
	"errors"
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/configs"
	logger "github.com/nixsecrets/nixos-secrets/internal/logging"
	"github.com/nixsecrets/nixos-secrets/internal/ui"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	debug      bool
	configFile string
	Logger     logger.Logger

	// Config is loaded before any subcommand runs.
	Config *configs.Config

	// flagKeys binds command line flags to configuration keys.
	flagKeys = map[string]string{
		"store":        "store.dir",
		"manifest":     "manifest.path",
		"engine":       "keyring.engine",
		"public-keys":  "keyring.public_dir",
		"private-keys": "keyring.private_dir",
		"workers":      "rekey.workers",
		"orphans":      "rekey.orphans",
	}

	SecretsCmd = &cobra.Command{
		Use:   "nixos-secrets",
		Short: "Keep secrets encrypted to exactly the machines and people that need them",
		Long: `nixos-secrets stores each secret encrypted to the recipients a manifest
declares for it. When the manifest changes, 'nixos-secrets rekey' re-encrypts
every affected secret so the stored ciphertext matches the manifest again.

Configuration is read from nixos-secrets.toml in the project root or the user
config directory, NIXOS_SECRETS_* environment variables, and flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			Logger = logger.Logger{
				Verbose: verbose,
				Debug:   debug,
			}
			Logger.Debugf("Initializing %s with verbose=%t, debug=%t", cmd.Name(), verbose, debug)

			if !cmd.HasParent() {
				return nil
			}

			cfg, err := configs.Load(configs.LoadOptions{
				ConfigFile: configFile,
				Flags:      cmd.Flags(),
				FlagKeys:   flagKeys,
			})
			if err != nil {
				fmt.Println(ui.Cross() + " Failed to load configuration\n" +
					ui.Error.Sprint("Error: ") + err.Error())
				return reported(err)
			}
			if cfg.File != "" {
				Logger.Infof("Using configuration from %s", cfg.File)
			}
			Logger.Debugf("Store %s, manifest %s, engine %s", cfg.Store.Dir, cfg.Manifest.Path, cfg.Keyring.Engine)
			Config = cfg
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			figure.NewColorFigure("nixos-secrets", "small", "green", true).Print()
			fmt.Println()
			fmt.Println(ui.Arrow() + " Run " + ui.Code.Sprint("nixos-secrets --help") + " to see available commands.")
		},
	}
)

func init() {
	flags := SecretsCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug output")
	flags.StringVar(&configFile, "config", "", "configuration file (default: nixos-secrets.toml in the project root)")
	flags.String("store", "", "directory holding encrypted secrets")
	flags.String("manifest", "", "manifest declaring secrets and their recipients")
	flags.String("engine", "", "cryptographic engine: age, box, pgp or rsa")
	flags.String("public-keys", "", "directory of recipient public keys")
	flags.String("private-keys", "", "directory of local private keys")
	flags.Int("workers", 0, "number of secrets processed at once")

	SecretsCmd.AddCommand(createCmd)
	SecretsCmd.AddCommand(editCmd)
	SecretsCmd.AddCommand(decryptCmd)
	SecretsCmd.AddCommand(rekeyCmd)
	SecretsCmd.AddCommand(statusCmd)
	SecretsCmd.AddCommand(deleteCmd)
	SecretsCmd.AddCommand(cleanCmd)
	SecretsCmd.AddCommand(logCmd)
}

// reportedError marks an error whose message has already been shown.
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reported(err error) error {
	if err == nil || IsReported(err) {
		return err
	}
	return &reportedError{err: err}
}

// IsReported reports whether err was already printed by the command that
// returned it.
func IsReported(err error) bool {
	var r *reportedError
	return errors.As(err, &r)
}
