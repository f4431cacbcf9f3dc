// Package cli wraps the engine in a thin Cobra command tree. The CLI
// itself holds no scheduling logic; every command loads a flow's current
// definition and event store, calls into internal/engine, and maps the
// resulting error to an exit code via internal/engineerr.ExitCode.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand constructs the detflow root Cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "detflow",
		Short:         "detflow - deterministic, event-sourced workflow engine",
		Long:          "detflow runs typed step pipelines as a linear, event-sourced flow: every tick appends to an append-only log, and a flow's state is always a pure replay of that log.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "path to a detflow config file (yaml)")

	cmd.AddCommand(newRetryCommand())
	cmd.AddCommand(newApproveCommand())
	cmd.AddCommand(newBranchCommand())

	return cmd
}
