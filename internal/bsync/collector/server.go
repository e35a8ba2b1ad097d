package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/gingerrexayers/bsync-go/internal/bsync/codec"
	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// Server accepts agent connections and applies their messages to a Mirror.
//
// Connections are served concurrently, at most MaxConnections at a time; the
// rest wait in the listen backlog. Each connection is a loop of one frame in,
// one ack out.
type Server struct {
	Codec          *codec.Codec
	Mirror         *Mirror
	Logger         *slog.Logger
	MaxConnections int
	IdleTimeout    time.Duration
	MaxFrameSize   int64

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

type session struct {
	conn net.Conn
	busy bool
}

type sessionStats struct {
	messages int
	failures int
	bytes    int64
}

// NewServer builds a Server writing under cfg.BackupRoot. The mirror is confined
// to the backup root at the filesystem layer as well.
func NewServer(cfg *lib.CollectorConfig, logger *slog.Logger) (*Server, error) {
	c, err := codec.New(cfg.Key, codec.WithMaxFrameSize(cfg.MaxFrameSize))
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(cfg.BackupRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve backup root: %w", err)
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Codec:          c,
		Mirror:         NewMirror(afero.NewBasePathFs(osFs, root), string(filepath.Separator)),
		Logger:         logger,
		MaxConnections: cfg.MaxConnections,
		IdleTimeout:    cfg.IdleTimeout,
		MaxFrameSize:   cfg.MaxFrameSize,
	}, nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.Logger.Info("collector listening", "addr", ln.Addr().String(), "max_connections", s.MaxConnections)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is called.
// On the way out it stops accepting, wakes idle sessions, lets busy sessions
// finish their current message, and waits for all of them. It returns nil after
// a requested shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.sessions = make(map[*session]struct{})
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	limit := s.MaxConnections
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	var serveErr error
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			sem.Release(1)
			if s.isClosing() {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			serveErr = fmt.Errorf("accept: %w", err)
			s.Shutdown()
			break
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer sem.Release(1)
			s.handle(conn)
		}()
	}

	s.wg.Wait()
	return serveErr
}

// Shutdown stops accepting connections and asks open sessions to finish. It
// does not wait; Serve returns once every session is done.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.closing = true
	if s.listener != nil {
		s.listener.Close()
	}
	for sess := range s.sessions {
		if !sess.busy {
			sess.conn.SetReadDeadline(time.Now())
		}
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// setBusy flips the session state. Going idle fails once shutdown has begun.
func (s *Server) setBusy(sess *session, busy bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !busy && s.closing {
		return false
	}
	sess.busy = busy
	return true
}

func (s *Server) handle(conn net.Conn) {
	sess := &session{conn: conn}
	defer conn.Close()
	if !s.track(sess) {
		return
	}
	defer s.untrack(sess)

	log := s.Logger.With("remote", conn.RemoteAddr().String())
	log.Debug("session opened")
	started := time.Now()
	acks := json.NewEncoder(conn)
	var stats sessionStats

	for {
		// 1. Wait for the next frame, bounded by the idle timeout.
		var deadline time.Time
		if s.IdleTimeout > 0 {
			deadline = time.Now().Add(s.IdleTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}
		if !s.setBusy(sess, false) {
			break
		}
		length, err := codec.ReadFrameHeader(conn)
		if err != nil {
			s.logReadError(log, err)
			break
		}

		// The message is in flight from here on; shutdown lets it finish.
		s.setBusy(sess, true)
		body := &bodyReader{conn: conn, timeout: s.IdleTimeout}
		payload, err := codec.ReadFramePayload(body, length, s.MaxFrameSize)
		if err != nil && !errors.Is(err, codec.ErrFrameTooLarge) {
			s.logReadError(log, err)
			break
		}

		// 2. Decode and apply.
		status := types.AckSuccess
		if err != nil {
			log.Warn("rejecting oversized frame", "limit", humanize.IBytes(uint64(s.MaxFrameSize)), "error", err)
			status = types.AckError
		} else if applyErr := s.process(log, payload); applyErr != nil {
			status = types.AckError
		}
		stats.messages++
		stats.bytes += int64(len(payload))
		if status != types.AckSuccess {
			stats.failures++
		}

		// 3. Always answer, so the agent never waits on a lost message.
		if err := acks.Encode(types.Ack{Status: status}); err != nil {
			log.Warn("failed to send ack", "error", err)
			break
		}
	}

	log.Info("session closed",
		"messages", stats.messages,
		"failures", stats.failures,
		"received", humanize.Bytes(uint64(stats.bytes)),
		"duration", time.Since(started).Round(time.Millisecond),
	)
}

func (s *Server) process(log *slog.Logger, payload []byte) error {
	entity, err := s.Codec.Decode(payload)
	if err != nil {
		log.Warn("rejecting message", "error", err)
		return err
	}
	log = log.With("client", entity.ClientID, "path", entity.DisplayPath(), "kind", entity.Kind.String())
	if err := s.Mirror.Apply(entity); err != nil {
		log.Error("apply failed", "deleted", entity.Deleted, "error", err)
		return err
	}
	if entity.Deleted {
		log.Info("removed")
	} else {
		log.Debug("applied", "size", entity.Size)
	}
	return nil
}

func (s *Server) logReadError(log *slog.Logger, err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		log.Debug("agent disconnected")
	case errors.As(err, &ne) && ne.Timeout():
		if s.isClosing() {
			log.Debug("closing idle session for shutdown")
		} else {
			log.Info("closing idle session", "idle_timeout", s.IdleTimeout)
		}
	case s.isClosing():
		log.Debug("session interrupted by shutdown", "error", err)
	default:
		log.Warn("read failed", "error", err)
	}
}

// bodyReader reads a frame body, pushing the read deadline forward before every
// read. It also overrides a deadline set by Shutdown just before the session
// turned busy.
type bodyReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *bodyReader) Read(p []byte) (int, error) {
	var deadline time.Time
	if r.timeout > 0 {
		deadline = time.Now().Add(r.timeout)
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}
