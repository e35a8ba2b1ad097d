package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gingerrexayers/bsync-go/internal/bsync/agent"
	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// AgentOptions holds the configuration for the agent command.
type AgentOptions struct {
	ConfigPath string
	Logger     *slog.Logger
	// Reload, when set, triggers a re-read of the configuration file. The new
	// timing applies from the next cycle.
	Reload <-chan os.Signal
}

// RunAgent is the main function for the 'agent' command. It runs until ctx is
// cancelled.
func RunAgent(ctx context.Context, opts AgentOptions) error {
	logger := loggerOrDefault(opts.Logger)

	// 1. Load the configuration once.
	provider, err := loadProvider(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := lib.LoadAgentConfig(provider)
	if err != nil {
		return fmt.Errorf("invalid agent configuration: %w", err)
	}

	// 2. Resolve the backup roots.
	roots, err := lib.LoadRoots(cfg.RootListPath)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return fmt.Errorf("no backup roots listed in %s", cfg.RootListPath)
	}
	for _, root := range roots {
		logger.Info("backup root", "label", root.Label, "path", root.Path)
	}

	// 3. Own the state file for the lifetime of the process.
	lock, err := lib.AcquireStateLock(cfg.StatePath)
	if err != nil {
		return err
	}
	defer lock.Release()

	snapshot, err := lib.LoadSnapshot(cfg.StatePath)
	if err != nil {
		logger.Warn("state file unreadable, starting a full resync", "path", cfg.StatePath, "error", err)
	} else {
		logger.Debug("state loaded", "path", cfg.StatePath, "entries", snapshot.Len())
	}

	// 4. Run the sync loop.
	a, err := agent.New(cfg, roots, snapshot, agent.WithLogger(logger))
	if err != nil {
		return err
	}
	if opts.Reload != nil {
		go watchReload(ctx, opts.Reload, provider, a, logger)
	}
	return a.Run(ctx)
}

// watchReload re-reads the configuration file on every signal and hands the
// new timing to the agent.
func watchReload(ctx context.Context, reload <-chan os.Signal, provider *lib.FileProvider, a *agent.Agent, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-reload:
			if err := provider.Reload(); err != nil {
				logger.Error("configuration reload failed", "error", err)
				continue
			}
			timing, err := lib.LoadTiming(provider)
			if err != nil {
				logger.Error("configuration reload failed", "error", err)
				continue
			}
			a.SetTiming(timing)
			logger.Info("configuration reloaded, applying at the next cycle")
		}
	}
}
