package cmd

import (
	"strings"

	"github.com/nixsecrets/nixos-secrets/internal/ui"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:   "edit NAME",
	Short: "Replace the value of an existing secret",
	Long: `Reads a new value from stdin, or prompts for it twice without echo, and
re-encrypts NAME to the recipients the manifest currently declares.

You do not need to be able to read the old value to replace it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		Logger.Infof("Starting edit command for %s", name)

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

		result, err := workflows.Edit(cmd.Context(), s, m, workflows.EditOptions{
			Name:      name,
			Plaintext: value,
		})
		if err != nil {
			spinner.FinalMSG = formatError(err)
			return reported(err)
		}

		spinner.FinalMSG = ui.Tick() + " Updated " + ui.Highlight.Sprint(result.Name) +
			" for " + strings.Join(result.Recipients, ", ")
		return nil
	},
}
