package main

import (
	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/commands"
)

// NewKeygenCommand creates the 'keygen' command for the CLI.
func NewKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random key for the [security] section.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.Keygen(cmd.OutOrStdout())
		},
	}
}
