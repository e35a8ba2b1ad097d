package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/commands"
)

// NewResetCommand creates the 'reset' command for the CLI.
func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset [root-label]",
		Short: "Forget synced state so the next cycle resends everything.",
		Long: `Drops the agent's record of synced entries, for one root or for all of
them. The next cycle sends the affected entries again. The agent must not be
running.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: rootLabelCompletions,
		RunE: func(cmd *cobra.Command, args []string) error {
			label := ""
			if len(args) > 0 {
				label = args[0]
			}
			return commands.Reset(commands.ResetOptions{ConfigPath: configPath, RootLabel: label, Out: cmd.OutOrStdout()})
		},
	}
}
