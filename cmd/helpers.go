package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nixsecrets/nixos-secrets/internal/envelope"
	serrors "github.com/nixsecrets/nixos-secrets/internal/errors"
	"github.com/nixsecrets/nixos-secrets/internal/manifest"
	"github.com/nixsecrets/nixos-secrets/internal/ui"
	"github.com/nixsecrets/nixos-secrets/internal/utils"
	"github.com/nixsecrets/nixos-secrets/internal/workflows"

	"github.com/briandowns/spinner"
)

// startSpinner creates and starts a spinner with the given message when not in verbose or debug mode.
// Returns the spinner and a function that should be deferred to clean up.
//
// spinner.FinalMSG values do not need trailing newlines; cleanup adds one.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message

	if err := s.Color("cyan"); err != nil {
		Logger.Warnf("Failed to set spinner color: %v", err)
	}

	quiet := !verbose && !debug
	if quiet {
		s.Start()
		log.SetOutput(io.Discard)
	} else {
		Logger.Infof("%s", message)
	}

	cleanup := func() {
		if quiet {
			log.SetOutput(os.Stderr)
		}

		finalMsg := ""
		if s.FinalMSG != "" {
			finalMsg = ui.EnsureNewline(s.FinalMSG)
			s.FinalMSG = ""
		}

		if quiet {
			s.Stop()
		}

		// Printed after Stop so the spinner line is already cleared.
		if finalMsg != "" {
			fmt.Print(finalMsg)
		}
	}

	return s, cleanup
}

// openSession loads the manifest named by the configuration and wires a
// workflow session around it.
func openSession() (*manifest.Manifest, *workflows.Session, error) {
	Logger.Debugf("Loading manifest from %s", Config.Manifest.Path)
	m, err := manifest.Load(Config.Manifest.Path)
	if err != nil {
		return nil, nil, err
	}

	s, err := workflows.NewSession(Config, m, Logger, workflows.SessionOptions{
		Passphrase: promptPassphrase,
	})
	if err != nil {
		return nil, nil, err
	}
	return m, s, nil
}

var passphraseMu sync.Mutex

// promptPassphrase asks for the passphrase of one private key on the
// terminal. Workers share the terminal, so prompts are serialized.
func promptPassphrase(id string) ([]byte, error) {
	passphraseMu.Lock()
	defer passphraseMu.Unlock()
	return utils.ReadPassphraseFromTTY(fmt.Sprintf("Passphrase for the %s key: ", id))
}

// readValue reads a secret value from stdin or the terminal.
func readValue(name string) ([]byte, error) {
	value, err := utils.ReadSecret(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return nil, fmt.Errorf("failed to read the value of %s: %w", name, err)
	}
	return value, nil
}

// formatError turns a workflow error into the message shown to the user.
func formatError(err error) string {
	var b strings.Builder
	switch {
	case errors.Is(err, os.ErrNotExist) && strings.Contains(err.Error(), "manifest"):
		b.WriteString(ui.Cross() + " No manifest found at " + ui.Path.Sprint(Config.Manifest.Path) + "\n")
		b.WriteString(ui.Arrow() + " Declare your secrets there, or point " + ui.Flag.Sprint("--manifest") + " at the right file")
		return b.String()

	case errors.Is(err, serrors.ErrValidation):
		b.WriteString(ui.Cross() + " The manifest is invalid; nothing was changed\n")
		b.WriteString(ui.Error.Sprint("Error: ") + err.Error() + "\n")
		b.WriteString(ui.Arrow() + " Fix the manifest, or use " + ui.Flag.Sprint("--keep-going") + " to process the valid entries")
		return b.String()

	case errors.Is(err, serrors.ErrNotInManifest):
		b.WriteString(ui.Cross() + " " + err.Error() + "\n")
		b.WriteString(ui.Arrow() + " Add it to " + ui.Path.Sprint(Config.Manifest.Path) + " first")
		return b.String()

	case errors.Is(err, serrors.ErrSecretExists):
		b.WriteString(ui.Cross() + " " + err.Error() + "\n")
		b.WriteString(ui.Arrow() + " Use " + ui.Flag.Sprint("--force") + " if you really mean it")
		return b.String()

	case errors.Is(err, serrors.ErrSecretNotFound):
		b.WriteString(ui.Cross() + " " + err.Error() + "\n")
		b.WriteString(ui.Arrow() + " Run " + ui.Code.Sprint("nixos-secrets create NAME") + " to add it")
		return b.String()

	case errors.Is(err, serrors.ErrNoAuthorizedLocalKey):
		b.WriteString(ui.Cross() + " " + err.Error() + "\n")
		b.WriteString(ui.Arrow() + " None of its recipients has a private key in " + ui.Path.Sprint(Config.Keyring.PrivateDir))
		return b.String()

	case errors.Is(err, serrors.ErrStoreLocked):
		b.WriteString(ui.Cross() + " " + err.Error() + "\n")
		b.WriteString(ui.Arrow() + " Wait for the other run to finish and try again")
		return b.String()

	case errors.Is(err, serrors.ErrUnknownEngine):
		b.WriteString(ui.Cross() + " " + err.Error())
		return b.String()

	default:
		return ui.Cross() + " " + err.Error()
	}
}

// failNow prints err for a command that has not started its spinner.
func failNow(err error) error {
	fmt.Print(ui.EnsureNewline(formatError(err)))
	return reported(err)
}

func wipe(b []byte) {
	envelope.Wipe(b)
}
