package cmd

import (
	"fmt"
	"sync"

	"github.com/nixsecrets/nixos-secrets/internal/configs"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/rekey"
	"github.com/nixsecrets/nixos-secrets/internal/utils"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var (
	rekeyDryRun    bool
	rekeyKeepGoing bool
	rekeyPrompt    bool
	rekeyOnly      []string
)

func init() {
	addRunFlags(rekeyCmd)
	rekeyCmd.Flags().BoolVar(&rekeyDryRun, "dry-run", false, "show what would change without writing anything")
}

// addRunFlags registers the flags shared by rekey and status.
func addRunFlags(c *cobra.Command) {
	c.Flags().BoolVar(&rekeyKeepGoing, "keep-going", false, "process the valid entries of an invalid manifest")
	c.Flags().BoolVar(&rekeyPrompt, "prompt", false, "ask for the value of secrets that do not exist yet")
	c.Flags().StringSliceVar(&rekeyOnly, "only", nil, "only process secrets matching these globs (e.g. 'web/**')")
	c.Flags().String("orphans", "", "what to do with stored secrets the manifest no longer declares: report or fail")
}

func resetRekeyCommandState() {
	rekeyDryRun = false
	rekeyKeepGoing = false
	rekeyPrompt = false
	rekeyOnly = nil
}

var rekeyCmd = &cobra.Command{
	Use:   "rekey",
	Short: "Re-encrypt secrets so they match the manifest",
	Long: `Brings every declared secret in line with the manifest:

  - secrets already encrypted to exactly their recipients are left alone
  - secrets encrypted to a different set are decrypted with a local key
    and re-encrypted to the declared recipients
  - secrets that do not exist yet are created with --prompt, else skipped
  - stored secrets the manifest no longer declares are reported as orphaned

Each secret is handled independently; one failure never stops the others.
The exit status is non-zero when any secret failed or was skipped.

Examples:
  nixos-secrets rekey
  nixos-secrets rekey --dry-run
  nixos-secrets rekey --only 'web/**' --prompt
  nixos-secrets rekey --orphans fail`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		Logger.Infof("Starting rekey command")
		return runRekey(cmd, rekeyDryRun)
	},
}

func runRekey(cmd *cobra.Command, dryRun bool) error {
	m, s, err := openSession()
	if err != nil {
		return failNow(err)
	}

	message := "Rekeying secrets..."
	if dryRun {
		message = "Checking secrets..."
	}
	spinner, cleanup := startSpinner(message)
	defer cleanup()

	opts := workflows.RekeyOptions{
		DryRun:    dryRun,
		KeepGoing: rekeyKeepGoing,
		Only:      rekeyOnly,
		Workers:   Config.Rekey.Workers,
		Orphans:   Config.Rekey.Orphans,
	}
	if rekeyPrompt {
		opts.Plaintext = promptValues(spinner)
	}
	if opts.Orphans == "" {
		opts.Orphans = configs.OrphansReport
	}

	report, err := workflows.Rekey(cmd.Context(), s, m, opts)
	if err != nil {
		spinner.FinalMSG = formatError(err)
		return reported(err)
	}
	Logger.Debugf("Run %s finished with %d results", report.RunID, len(report.Results))

	spinner.FinalMSG = renderReport(report, dryRun)
	return reported(report.Err())
}

// promptValues asks on the terminal for the value of each new secret. The
// spinner is paused while a prompt is open.
func promptValues(s *spinner.Spinner) rekey.PlaintextSource {
	var mu sync.Mutex
	return func(name string) ([]byte, error) {
		if !utils.IsTerminal() {
			return nil, fmt.Errorf("%w: %s: stdin is not a terminal", serrors.ErrPlaintextUnavailable, name)
		}

		mu.Lock()
		defer mu.Unlock()
		active := s.Active()
		if active {
			s.Stop()
			defer s.Restart()
		}
		return readValue(name)
	}
}
