package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gingerrexayers/bsync-go/internal/bsync/codec"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

func readFrame(r io.Reader, maxSize int64) ([]byte, error) {
	length, err := codec.ReadFrameHeader(r)
	if err != nil {
		return nil, err
	}
	return codec.ReadFramePayload(r, length, maxSize)
}

// fakeCollector answers every frame on conn with the given raw ack lines, in
// order, then stops reading.
func fakeCollector(t *testing.T, conn net.Conn, replies ...string) <-chan [][]byte {
	t.Helper()
	received := make(chan [][]byte, 1)
	go func() {
		var frames [][]byte
		defer func() { received <- frames }()
		for _, reply := range replies {
			frame, err := readFrame(conn, 1<<20)
			if err != nil {
				return
			}
			frames = append(frames, frame)
			if _, err := io.WriteString(conn, reply); err != nil {
				return
			}
		}
	}()
	return received
}

func TestSessionExchange(t *testing.T) {
	t.Run("should send one frame per exchange and decode acks", func(t *testing.T) {
		// Arrange
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		received := fakeCollector(t, server, `{"status":"success"}`+"\n", `{"status":"error"}`+"\n")
		session := NewSession(client, time.Second)

		// Act
		first, err1 := session.Exchange(context.Background(), []byte("one"))
		second, err2 := session.Exchange(context.Background(), []byte("two"))

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.True(t, first.OK())
		assert.Equal(t, types.AckError, second.Status)
		assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, <-received)
	})

	t.Run("should fail with ErrConnection when the peer closes", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		go func() {
			_, _ = readFrame(server, 1<<20)
			server.Close()
		}()

		_, err := NewSession(client, time.Second).Exchange(context.Background(), []byte("x"))

		assert.ErrorIs(t, err, ErrConnection)
	})

	t.Run("should time out waiting for an ack", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		go func() { _, _ = readFrame(server, 1<<20) }()

		start := time.Now()
		_, err := NewSession(client, 50*time.Millisecond).Exchange(context.Background(), []byte("x"))

		assert.ErrorIs(t, err, ErrConnection)
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("should not time out while a large frame is still flowing", func(t *testing.T) {
		// Arrange: a collector that drains the frame slowly, in small reads.
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		payload := make([]byte, 1<<20)
		const ackTimeout = 250 * time.Millisecond
		go func() {
			var header [4]byte
			if _, err := io.ReadFull(server, header[:]); err != nil {
				return
			}
			buf := make([]byte, 32*1024)
			for remaining := len(payload); remaining > 0; {
				n, err := server.Read(buf)
				if err != nil {
					return
				}
				remaining -= n
				time.Sleep(25 * time.Millisecond)
			}
			_, _ = io.WriteString(server, `{"status":"success"}`+"\n")
		}()

		// Act
		start := time.Now()
		ack, err := NewSession(client, ackTimeout).Exchange(context.Background(), payload)

		// Assert
		require.NoError(t, err)
		assert.True(t, ack.OK())
		assert.Greater(t, time.Since(start), ackTimeout, "the transfer outlasted a single ack timeout")
	})

	t.Run("should reject an unknown ack status", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		fakeCollector(t, server, `{"status":"maybe"}`+"\n")

		_, err := NewSession(client, time.Second).Exchange(context.Background(), []byte("x"))

		assert.ErrorIs(t, err, ErrConnection)
	})

	t.Run("should be interrupted by context cancellation", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()
		go func() { _, _ = readFrame(server, 1<<20) }()
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, err := NewSession(client, 0).Exchange(ctx, []byte("x"))

		assert.ErrorIs(t, err, ErrConnection)
	})
}

func TestDialer(t *testing.T) {
	t.Run("should connect to a listening collector", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		go func() {
			conn, err := ln.Accept()
			if err == nil {
				fakeCollector(t, conn, `{"status":"success"}`+"\n")
			}
		}()

		d := &Dialer{Addr: ln.Addr().String(), DialTimeout: time.Second, AckTimeout: time.Second}
		session, err := d.Dial(context.Background())
		require.NoError(t, err)
		defer session.Close()

		ack, err := session.Exchange(context.Background(), []byte("hi"))
		require.NoError(t, err)
		assert.True(t, ack.OK())
	})

	t.Run("should wrap a refused connection in ErrConnection", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := ln.Addr().String()
		require.NoError(t, ln.Close())

		_, err = (&Dialer{Addr: addr, DialTimeout: time.Second}).Dial(context.Background())

		assert.ErrorIs(t, err, ErrConnection)
	})
}
