package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	addRunFlags(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which secrets are out of date with the manifest",
	Long: `Shows what 'nixos-secrets rekey' would do, without writing anything.

Each secret is in one of these states:
  - absent:     declared but not stored yet
  - consistent: encrypted to exactly the declared recipients
  - stale:      encrypted to a different set of recipients
  - orphaned:   stored but no longer declared
  - unknown:    the stored file is unreadable or a recipient is unknown

Takes the same flags as rekey. The exit status is non-zero when rekey would
fail or skip a secret.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting status command")
		return runRekey(cmd, true)
	},
}
