package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/commands"
)

// NewStatusCommand creates the 'status' command for the CLI.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the agent has synced, per root.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Status(commands.StatusOptions{ConfigPath: configPath, Out: cmd.OutOrStdout()})
		},
	}
}
