package cmd

import (
	"os"

	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/spf13/cobra"
)

var decryptCmd = &cobra.Command{
	Use:   "decrypt NAME",
	Short: "Print the value of a secret",
	Long: `Decrypts NAME with the first local private key among its recipients and
writes the value to stdout, unchanged. Nothing is written to disk.

Examples:
  nixos-secrets decrypt db-password
  nixos-secrets decrypt web/tls-key > /run/keys/tls.pem`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		Logger.Infof("Starting decrypt command for %s", name)

		_, s, err := openSession()
		if err != nil {
			return failNow(err)
		}

		result, err := workflows.Decrypt(cmd.Context(), s, workflows.DecryptOptions{Name: name})
		if err != nil {
			return failNow(err)
		}
		defer wipe(result.Plaintext)

		Logger.Infof("Decrypted %s with the key for %s", result.Name, result.DecryptedWith)
		if _, err := os.Stdout.Write(result.Plaintext); err != nil {
			return Logger.ErrorfAndReturn("failed to write %s: %v", name, err)
		}
		return nil
	},
}
