package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/commands"
)

// NewAgentCommand creates the 'agent' command for the CLI.
func NewAgentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the backup agent.",
		Long: `Walks the configured roots periodically and streams new, changed and
deleted entries to the collector. Runs until interrupted.

Send SIGHUP to re-read the [sleep] settings; they apply from the next cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reload := make(chan os.Signal, 1)
			signal.Notify(reload, syscall.SIGHUP)
			defer signal.Stop(reload)

			return commands.RunAgent(cmd.Context(), commands.AgentOptions{
				ConfigPath: configPath,
				Logger:     slog.Default(),
				Reload:     reload,
			})
		},
	}
}
