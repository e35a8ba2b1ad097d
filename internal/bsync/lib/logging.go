package lib

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// LogOptions configures the process logger.
type LogOptions struct {
	Level slog.Level
	// File, when set, receives a plain-text copy of every record.
	File string
}

// LoadLogOptions reads the [log] section.
func LoadLogOptions(p Provider) (LogOptions, error) {
	opts := LogOptions{Level: slog.LevelInfo, File: p.Get("log", "file")}
	if lvl := p.Get("log", "level"); lvl != "" {
		if err := opts.Level.UnmarshalText([]byte(strings.ToUpper(lvl))); err != nil {
			return opts, fmt.Errorf("log.level: %w", err)
		}
	}
	return opts, nil
}

// NewLogger builds the process logger: a colored console handler on stderr,
// plus a text handler on the log file when one is configured. The returned
// closer releases the file.
func NewLogger(opts LogOptions) (*slog.Logger, io.Closer, error) {
	console := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      opts.Level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	if opts.File == "" {
		return slog.New(console), io.NopCloser(nil), nil
	}

	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(NewMultiLogHandler(console, fileHandler)), file, nil
}

// MultiLogHandler implements slog.Handler and forwards records to several
// handlers.
type MultiLogHandler struct {
	handlers []slog.Handler
}

// NewMultiLogHandler creates a MultiLogHandler over handlers.
func NewMultiLogHandler(handlers ...slog.Handler) *MultiLogHandler {
	return &MultiLogHandler{handlers: handlers}
}

// Enabled implements slog.Handler.
func (h *MultiLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler.
func (h *MultiLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if e := handler.Handle(ctx, r.Clone()); e != nil {
				err = e
			}
		}
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *MultiLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return NewMultiLogHandler(handlers...)
}

// WithGroup implements slog.Handler.
func (h *MultiLogHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return NewMultiLogHandler(handlers...)
}
