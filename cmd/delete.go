package cmd

import (
	"github.com/nixsecrets/nixos-secrets/internal/ui"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/spf13/cobra"
)

var deleteForce bool

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "delete even if the manifest still declares the secret")
}

func resetDeleteCommandState() {
	deleteForce = false
}

var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a stored secret",
	Long: `Removes the encrypted file for NAME. This cannot be undone.

Rekeying never deletes anything, so this is how secrets reported as orphaned
are finally removed. Secrets the manifest still declares are refused unless
--force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		Logger.Infof("Starting delete command for %s", name)

		m, s, err := openSession()
		if err != nil {
			return failNow(err)
		}

		spinner, cleanup := startSpinner("Deleting " + name + "...")
		defer cleanup()

		result, err := workflows.Delete(cmd.Context(), s, m, workflows.DeleteOptions{
			Name:  name,
			Force: deleteForce,
		})
		if err != nil {
			spinner.FinalMSG = formatError(err)
			return reported(err)
		}

		msg := ui.Tick() + " Deleted " + ui.Highlight.Sprint(result.Name)
		if result.WasDeclared {
			msg += "\n" + ui.Bang() + " The manifest still declares it; the next rekey will need a new value for it"
		}
		spinner.FinalMSG = msg
		return nil
	},
}
