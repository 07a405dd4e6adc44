package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nixsecrets/nixos-secrets/cmd"
	"github.com/nixsecrets/nixos-secrets/internal/ui"
)

func main() {
	// Interrupting a rekey lets in-flight secrets finish and fails the rest.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.SecretsCmd.ExecuteContext(ctx); err != nil {
		if !cmd.IsReported(err) {
			fmt.Fprintln(os.Stderr, ui.Cross()+" "+err.Error())
		}
		stop()
		os.Exit(1)
	}
}
