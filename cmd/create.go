package cmd

import (
	"strings"

	"github.com/nixsecrets/nixos-secrets/internal/ui"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/spf13/cobra"
)

var createForce bool

func init() {
	createCmd.Flags().BoolVarP(&createForce, "force", "f", false, "replace the secret if it already exists")
}

func resetCreateCommandState() {
	createForce = false
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Encrypt a new secret to the recipients the manifest declares for it",
	Long: `Reads a value from stdin, or prompts for it twice without echo, and stores
it encrypted to every recipient the manifest declares for NAME.

Examples:
  echo -n hunter2 | nixos-secrets create db-password
  nixos-secrets create web/tls-key < key.pem
  nixos-secrets create db-password --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		Logger.Infof("Starting create command for %s", name)

		m, s, err := openSession()
		if err != nil {
			return failNow(err)
		}

		value, err := readValue(name)
		if err != nil {
			return failNow(err)
		}
		defer wipe(value)

		spinner, cleanup := startSpinner("Encrypting " + name + "...")
		defer cleanup()

		result, err := workflows.Create(cmd.Context(), s, m, workflows.CreateOptions{
			Name:      name,
			Plaintext: value,
			Force:     createForce,
		})
		if err != nil {
			spinner.FinalMSG = formatError(err)
			return reported(err)
		}

		verb := "Created"
		if result.Replaced {
			verb = "Replaced"
		}
		spinner.FinalMSG = ui.Tick() + " " + verb + " " + ui.Highlight.Sprint(result.Name) +
			" for " + strings.Join(result.Recipients, ", ")
		return nil
	},
}
