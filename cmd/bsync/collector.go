package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/commands"
)

// NewCollectorCommand creates the 'collector' command for the CLI.
func NewCollectorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "collector",
		Short: "Run the collector that mirrors agents' folders.",
		Long: `Accepts agent connections and mirrors their folders under
<backup_folder_path>/<client>/<root>. On interrupt it stops accepting and
lets in-flight messages finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.RunCollector(cmd.Context(), commands.CollectorOptions{
				ConfigPath: configPath,
				Logger:     slog.Default(),
			})
		},
	}
}
