package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// Flags shared by every command.
var (
	configPath string
	logLevel   string
	logCloser  io.Closer
)

func main() {
	var rootCmd = &cobra.Command{
		Use:               "bsync",
		Short:             "Back up folders to a remote collector over an encrypted stream.",
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", lib.DefaultConfigPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	// Add commands
	rootCmd.AddCommand(NewAgentCommand())
	rootCmd.AddCommand(NewCollectorCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewResetCommand())
	rootCmd.AddCommand(NewRestoreCommand())
	rootCmd.AddCommand(NewKeygenCommand())
	rootCmd.AddCommand(NewCompletionCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setupLogging installs the process logger from the [log] section, before any
// command runs.
func setupLogging(cmd *cobra.Command, args []string) error {
	provider, err := lib.NewFileProvider(configPath)
	if err != nil {
		return err
	}
	opts, err := lib.LoadLogOptions(provider)
	if err != nil {
		return err
	}
	if logLevel != "" {
		if err := opts.Level.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}

	logger, closer, err := lib.NewLogger(opts)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logCloser = closer
	return nil
}
