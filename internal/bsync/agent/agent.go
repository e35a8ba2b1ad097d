// Package agent drives the backup cycle: walk every root, send what changed,
// reconcile deletions, persist the snapshot, wait, repeat.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"

	"github.com/gingerrexayers/bsync-go/internal/bsync/codec"
	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/transport"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
	"github.com/gingerrexayers/bsync-go/internal/bsync/walker"
)

// CycleStats summarizes one sync cycle.
type CycleStats struct {
	Visited  int   // entities walked, sent or not
	Sent     int   // folders and files acknowledged
	Deleted  int   // tombstones acknowledged
	Rejected int   // messages the collector answered with an error
	Skipped  int   // files that could not be read
	Bytes    int64 // file content acknowledged
}

// Messages returns the number of acknowledged messages.
func (s CycleStats) Messages() int { return s.Sent + s.Deleted }

// Agent is the backup client. It runs a single sequential flow: one message in
// flight at a time.
type Agent struct {
	cfg      *lib.AgentConfig
	roots    []lib.Root
	codec    *codec.Codec
	walker   *walker.Walker
	snapshot *lib.Snapshot
	dialer   *transport.Dialer
	clock    clockwork.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	timing  lib.Timing
	pending *lib.Timing
}

// Option customizes an Agent.
type Option func(*Agent)

// WithClock sets the clock used for pacing.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Agent) { a.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) { a.logger = logger }
}

// New creates an Agent for roots, starting from snapshot.
func New(cfg *lib.AgentConfig, roots []lib.Root, snapshot *lib.Snapshot, opts ...Option) (*Agent, error) {
	c, err := codec.New(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("create codec: %w", err)
	}
	a := &Agent{
		cfg:      cfg,
		roots:    roots,
		codec:    c,
		snapshot: snapshot,
		dialer: &transport.Dialer{
			Addr:        cfg.ServerAddr(),
			DialTimeout: cfg.DialTimeout,
			AckTimeout:  cfg.AckTimeout,
		},
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
		timing: cfg.Timing,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("client", cfg.ClientID)
	a.walker = walker.New(cfg.ClientID, a.logger)
	return a, nil
}

// State returns the current connection state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()
	if prev != s {
		a.logger.Debug("state change", "from", prev.String(), "to", s.String())
	}
}

// SetTiming replaces the pacing knobs. The new values take effect at the next
// cycle boundary; a cycle in progress keeps its timing.
func (a *Agent) SetTiming(t lib.Timing) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = &t
}

// Timing returns the timing currently in effect.
func (a *Agent) Timing() lib.Timing {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timing
}

func (a *Agent) applyPendingTiming() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending != nil {
		a.timing = *a.pending
		a.pending = nil
		a.logger.Info("timing updated",
			"connection_error", a.timing.RetryDelay,
			"between_one_file", a.timing.ItemDelay,
			"between_synchronize", a.timing.CycleDelay,
		)
	}
}

// Run connects and syncs until ctx is cancelled. Connection failures are never
// fatal: the agent backs off and retries forever. Run returns nil once ctx is
// done.
func (a *Agent) Run(ctx context.Context) error {
	defer a.setState(StateDisconnected)
	backoff := transport.NewBackoff(a.Timing().RetryDelay, a.clock, a.logger)
	a.logger.Info("agent started", "server", a.dialer.Addr, "roots", len(a.roots))

	for ctx.Err() == nil {
		// Cycle boundary.
		a.applyPendingTiming()
		timing := a.Timing()
		backoff.Delay = timing.RetryDelay

		// 1. Connect.
		a.setState(StateConnecting)
		session, err := a.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			a.setState(StateBackoff)
			backoff.Failed(err)
			if backoff.Wait(ctx) != nil {
				break
			}
			continue
		}
		a.setState(StateConnected)
		a.logger.Debug("connected", "remote", session.RemoteAddr().String())

		// 2. Sync. A failure streak only ends once the collector has answered.
		_, err = a.SyncCycle(ctx, &ackedExchanger{Exchanger: session, backoff: backoff})
		session.Close()
		if err == nil {
			backoff.Reset()
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, transport.ErrConnection) {
				a.setState(StateBackoff)
				backoff.Failed(err)
				if backoff.Wait(ctx) != nil {
					break
				}
				continue
			}
			a.logger.Error("sync cycle failed", "error", err)
		}

		// 3. Wait for the next cycle.
		a.setState(StateIdle)
		if transport.Sleep(ctx, a.clock, timing.CycleDelay) != nil {
			break
		}
	}

	a.logger.Info("agent stopped")
	return nil
}

// SyncCycle walks every root, sends what the collector is missing through ex,
// then tombstones paths that disappeared. The snapshot is saved once at the
// end, including when the cycle is cut short by a connection failure.
func (a *Agent) SyncCycle(ctx context.Context, ex transport.Exchanger) (stats CycleStats, err error) {
	a.setState(StateSyncing)
	timing := a.Timing()

	defer func() {
		if !a.snapshot.Dirty() {
			return
		}
		if saveErr := a.snapshot.Save(a.cfg.StatePath); saveErr != nil {
			a.logger.Error("failed to save snapshot", "path", a.cfg.StatePath, "error", saveErr)
			if err == nil {
				err = saveErr
			}
		}
	}()

	touched := walker.NewTouched()
	incomplete := mapset.NewThreadUnsafeSet[string]()

	// --- Walk and send ---
	for _, root := range a.roots {
		walkErr := a.walker.Walk(ctx, root, func(e types.Entity) error {
			touched.Add(e.LocalPath)
			stats.Visited++
			if !walker.NeedsSync(e, a.snapshot) {
				return nil
			}
			loaded, err := walker.LoadContent(e)
			if err != nil {
				a.logger.Warn("skipping unreadable file", "path", e.DisplayPath(), "error", err)
				stats.Skipped++
				return nil
			}
			if err := a.send(ctx, ex, loaded, &stats); err != nil {
				return err
			}
			return transport.Sleep(ctx, a.clock, timing.ItemDelay)
		})

		var incompleteErr *walker.IncompleteWalkError
		switch {
		case walkErr == nil:
		case errors.As(walkErr, &incompleteErr):
			a.logger.Warn("root walk incomplete, its deletions wait for a clean walk", "root", root.Label, "error", walkErr)
			incomplete.Add(root.Label)
		default:
			return stats, walkErr
		}
	}

	// --- Deletion reconciliation ---
	for _, tombstone := range walker.Deleted(a.snapshot, touched, incomplete) {
		if err := a.send(ctx, ex, tombstone, &stats); err != nil {
			return stats, err
		}
		if err := transport.Sleep(ctx, a.clock, timing.ItemDelay); err != nil {
			return stats, err
		}
	}

	if stats.Messages() == 0 && stats.Rejected == 0 {
		a.logger.Info("no new data to send", "entries", touched.Len())
	} else {
		a.logger.Info("data sent",
			"sent", stats.Sent,
			"deleted", stats.Deleted,
			"rejected", stats.Rejected,
			"bytes", humanize.Bytes(uint64(stats.Bytes)),
		)
	}
	return stats, nil
}

// send performs one exchange and records its outcome in the snapshot. Only
// connection failures are returned; a rejected message is logged and left for
// the next cycle.
func (a *Agent) send(ctx context.Context, ex transport.Exchanger, e types.Entity, stats *CycleStats) error {
	log := a.logger.With("path", e.DisplayPath(), "kind", e.Kind.String())

	payload, err := a.codec.Encode(e)
	if err != nil {
		log.Error("failed to encode entity", "error", err)
		stats.Rejected++
		return nil
	}

	ack, err := ex.Exchange(ctx, payload)
	if err != nil {
		return err
	}

	if !ack.OK() {
		log.Warn("collector rejected entity", "deleted", e.Deleted)
		stats.Rejected++
		if e.Deleted {
			a.snapshot.MarkDeleted(e.LocalPath)
		}
		return nil
	}

	if e.Deleted {
		a.snapshot.Remove(e.LocalPath)
		stats.Deleted++
		log.Info("deletion synced")
		return nil
	}
	a.snapshot.Put(e)
	stats.Sent++
	stats.Bytes += int64(len(e.Content))
	log.Debug("entity synced", "size", e.Size)
	return nil
}

// ackedExchanger ends the backoff failure streak on the first acknowledged
// exchange.
type ackedExchanger struct {
	transport.Exchanger
	backoff *transport.Backoff
}

func (e *ackedExchanger) Exchange(ctx context.Context, payload []byte) (types.Ack, error) {
	ack, err := e.Exchanger.Exchange(ctx, payload)
	if err == nil {
		e.backoff.Reset()
	}
	return ack, err
}
