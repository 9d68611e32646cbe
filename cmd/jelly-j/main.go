// Command jelly-j is the terminal-workspace assistant: a UI client that
// launches (or reattaches to) a background daemon on demand, following
// the teacher's thin cobra-root-plus-subcommands entrypoint idiom.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jelly-j",
		Short: "Terminal-workspace assistant: chat with a model runtime from any pane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervisedUI(cmd.Context())
		},
	}

	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newUICmd())
	return cmd
}
