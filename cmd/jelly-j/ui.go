package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/victorarias/jelly-j/internal/paths"
	"github.com/victorarias/jelly-j/internal/supervisor"
	"github.com/victorarias/jelly-j/internal/uiclient"
)

func newUICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Run the UI client, assuming a daemon is already listening",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUI(cmd.Context())
		},
	}
}

// runSupervisedUI implements the no-subcommand invocation (§4.8 + §4.9):
// ensure a daemon is reachable, forking and waiting for one if not, then
// attach the UI client.
func runSupervisedUI(ctx context.Context) error {
	if err := supervisor.EnsureDaemon(ctx, ""); err != nil {
		return fmt.Errorf("daemon not available: %w", err)
	}
	return runUI(ctx)
}

func runUI(ctx context.Context) error {
	uiclient.InitTerminal()

	sess, registered, snapshot, err := uiclient.Connect(ctx, paths.SocketPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "could not connect to jelly-j daemon:", err)
		return err
	}
	defer sess.Close()

	return uiclient.Run(ctx, sess, registered, snapshot)
}
