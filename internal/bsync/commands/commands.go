// Package commands contains the command-line interface for the bsync application.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// loadProvider opens the configuration file, defaulting to lib.DefaultConfigPath.
func loadProvider(configPath string) (*lib.FileProvider, error) {
	if configPath == "" {
		configPath = lib.DefaultConfigPath
	}
	provider, err := lib.NewFileProvider(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return provider, nil
}

// statePath returns the agent's state file without requiring the rest of the
// agent configuration.
func statePath(p lib.Provider) string {
	if path := p.Get("client", "state_file"); path != "" {
		return path
	}
	return lib.DefaultStatePath
}

func outputOrStdout(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
