package cmd

import (
	"fmt"

	"github.com/nixsecrets/nixos-secrets/internal/ui"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/spf13/cobra"
)

var cleanDryRun bool

func init() {
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "show what would be removed without making changes")
}

func resetCleanCommandState() {
	cleanDryRun = false
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove temporary files left by interrupted writes",
	Long: `Removes the temporary files an interrupted create, edit or rekey can leave
in the store. A temporary file is only ever an unfinished copy of a secret
that was about to be replaced, so removing it never loses data.

Use --dry-run to preview what would be removed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting clean command")

		_, s, err := openSession()
		if err != nil {
			return failNow(err)
		}

		spinner, cleanup := startSpinner("Looking for temporary files...")
		defer cleanup()

		result, err := workflows.Clean(cmd.Context(), s, workflows.CleanOptions{DryRun: cleanDryRun})
		if err != nil {
			spinner.FinalMSG = formatError(err)
			return reported(err)
		}

		if len(result.TempFiles) == 0 {
			spinner.FinalMSG = ui.Tick() + " No temporary files found. Nothing to clean."
			return nil
		}

		rows := make([][]string, len(result.TempFiles))
		for i, f := range result.TempFiles {
			rows[i] = []string{ui.Path.Sprint(f)}
		}

		if result.DryRun {
			spinner.FinalMSG = ui.Warning.Sprint("[dry-run]") +
				fmt.Sprintf(" Would remove %d temporary file(s):\n", len(result.TempFiles)) +
				ui.Table(rows) + "\nNo changes made."
			return nil
		}

		spinner.FinalMSG = ui.Tick() + fmt.Sprintf(" Removed %d temporary file(s):\n", result.RemovedCount) + ui.Table(rows)
		return nil
	},
}
