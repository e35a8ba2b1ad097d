package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// Backoff paces reconnection attempts. Only the first failure of a streak is
// logged at warn level; repeats go to debug until Reset.
type Backoff struct {
	Delay  time.Duration
	Clock  clockwork.Clock
	Logger *slog.Logger

	failures int
}

// NewBackoff creates a Backoff. A nil clock means the real clock.
func NewBackoff(delay time.Duration, clock clockwork.Clock, logger *slog.Logger) *Backoff {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backoff{Delay: delay, Clock: clock, Logger: logger}
}

// Failed records a failed attempt.
func (b *Backoff) Failed(err error) {
	b.failures++
	if b.failures == 1 {
		b.Logger.Warn("collector unreachable, retrying", "error", err, "retry_in", b.Delay)
		return
	}
	b.Logger.Debug("collector still unreachable", "error", err, "attempt", b.failures)
}

// Reset ends a failure streak.
func (b *Backoff) Reset() {
	if b.failures > 0 {
		b.Logger.Info("connection restored", "failed_attempts", b.failures)
	}
	b.failures = 0
}

// Wait sleeps for Delay or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	return Sleep(ctx, b.Clock, b.Delay)
}

// Sleep blocks for d on clock, returning early with ctx's error if it is
// cancelled. A non-positive d returns immediately.
func Sleep(ctx context.Context, clock clockwork.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
