package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gingerrexayers/bsync-go/internal/bsync/collector"
	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
)

// CollectorOptions holds the configuration for the collector command.
type CollectorOptions struct {
	ConfigPath string
	Logger     *slog.Logger
}

// RunCollector is the main function for the 'collector' command. It serves
// until ctx is cancelled, then drains open sessions.
func RunCollector(ctx context.Context, opts CollectorOptions) error {
	logger := loggerOrDefault(opts.Logger)

	provider, err := loadProvider(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg, err := lib.LoadCollectorConfig(provider)
	if err != nil {
		return fmt.Errorf("invalid collector configuration: %w", err)
	}

	server, err := collector.NewServer(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("mirroring into backup root", "path", cfg.BackupRoot)
	if err := server.ListenAndServe(ctx, cfg.ListenAddr()); err != nil {
		return err
	}
	logger.Info("collector stopped")
	return nil
}
