// Package transport carries sealed payloads to the collector, one request and
// one acknowledgement at a time.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/goccy/go-json"

	"github.com/gingerrexayers/bsync-go/internal/bsync/codec"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// ErrConnection wraps every dial, read, write or timeout failure on the stream.
// After it the session is unusable and the caller must reconnect.
var ErrConnection = errors.New("connection failure")

// Exchanger sends one payload and waits for its acknowledgement.
type Exchanger interface {
	Exchange(ctx context.Context, payload []byte) (types.Ack, error)
}

// Dialer opens sessions to the collector.
type Dialer struct {
	Addr        string
	DialTimeout time.Duration
	AckTimeout  time.Duration
}

// Dial connects to the collector.
func (d *Dialer) Dial(ctx context.Context) (*Session, error) {
	nd := net.Dialer{Timeout: d.DialTimeout, KeepAlive: 30 * time.Second}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, d.Addr, err)
	}
	return NewSession(conn, d.AckTimeout), nil
}

// Session is one open connection to the collector. It is not safe for
// concurrent use; the protocol never pipelines.
type Session struct {
	conn       net.Conn
	ackTimeout time.Duration
	acks       *json.Decoder
}

// NewSession wraps an established connection. A zero ackTimeout waits forever.
func NewSession(conn net.Conn, ackTimeout time.Duration) *Session {
	return &Session{conn: conn, ackTimeout: ackTimeout, acks: json.NewDecoder(conn)}
}

// Exchange writes payload as one frame and reads the collector's ack.
//
// While the frame is going out, the ack timeout bounds each chunk of the
// write, so a large payload only fails when the link stalls. Once it is
// written, the ack timeout bounds the wait for the ack. Cancelling ctx
// interrupts a pending exchange.
func (s *Session) Exchange(ctx context.Context, payload []byte) (types.Ack, error) {
	if s.ackTimeout > 0 {
		defer s.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	w := &progressWriter{ctx: ctx, conn: s.conn, timeout: s.ackTimeout}
	if err := codec.WriteFrame(w, payload); err != nil {
		return types.Ack{}, fmt.Errorf("%w: send: %v", ErrConnection, err)
	}

	if s.ackTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.ackTimeout)); err != nil {
			return types.Ack{}, fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}
	// A deadline set after cancellation would undo the interrupt.
	if err := ctx.Err(); err != nil {
		return types.Ack{}, fmt.Errorf("%w: %v", ErrConnection, err)
	}

	var ack types.Ack
	if err := s.acks.Decode(&ack); err != nil {
		return types.Ack{}, fmt.Errorf("%w: read ack: %v", ErrConnection, err)
	}
	if ack.Status != types.AckSuccess && ack.Status != types.AckError {
		return types.Ack{}, fmt.Errorf("%w: unexpected ack status %q", ErrConnection, ack.Status)
	}
	return ack, nil
}

// writeChunkSize is how much of a frame goes out under one write deadline.
const writeChunkSize = 64 * 1024

// progressWriter writes in chunks and pushes the write deadline forward before
// each one.
type progressWriter struct {
	ctx     context.Context
	conn    net.Conn
	timeout time.Duration
}

func (w *progressWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := min(written+writeChunkSize, len(p))
		if w.timeout > 0 {
			if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
				return written, err
			}
		}
		if err := w.ctx.Err(); err != nil {
			return written, err
		}
		n, err := w.conn.Write(p[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// RemoteAddr returns the collector's address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close closes the connection.
func (s *Session) Close() error { return s.conn.Close() }
