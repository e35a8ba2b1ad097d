package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/commands"
)

// NewRestoreCommand creates the 'restore' command for the CLI.
func NewRestoreCommand() *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "restore <client-id> <root-label>",
		Short: "Copy a mirrored root out of the collector's backup folder.",
		Long: `Run on the collector host. Copies <backup_folder_path>/<client-id>/<root-label>
to the output directory, which must be empty or absent.`,
		Args: cobra.ExactArgs(2), // Requires the client id and the root label.
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Restore(commands.RestoreOptions{
				ConfigPath: configPath,
				ClientID:   args[0],
				RootLabel:  args[1],
				OutputDir:  outputDir,
				Out:        cmd.OutOrStdout(),
			})
		},
	}

	// Define flags for the command.
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "The directory to restore files to")
	cmd.MarkFlagRequired("output")

	return cmd
}
