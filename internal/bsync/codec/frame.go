package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// frameHeaderLength is the size of the big-endian uint32 length prefix that
// precedes every payload on the wire. Ciphertext is arbitrary binary, so the
// prefix is the only thing that delimits messages.
const frameHeaderLength = 4

// DefaultMaxFrameSize caps a single payload. Frames above it are rejected
// before any allocation happens.
const DefaultMaxFrameSize = 512 * 1024 * 1024

// WriteFrame writes one length-prefixed frame to w. The header and payload go
// out in a single Write so a frame is never interleaved on a shared stream.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderLength+len(payload))
	binary.BigEndian.PutUint32(buf[:frameHeaderLength], uint32(len(payload)))
	copy(buf[frameHeaderLength:], payload)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrameHeader reads the length prefix of the next frame. io.EOF is
// returned unwrapped when the stream ends cleanly between frames.
func ReadFrameHeader(r io.Reader) (int64, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("read frame header: %w", err)
	}
	return int64(binary.BigEndian.Uint32(header[:])), nil
}

// ReadFramePayload reads the body of a frame whose header announced length.
//
// A frame larger than maxSize yields ErrFrameTooLarge after its body has been
// drained, so the caller can reply and keep reading the next frame.
func ReadFramePayload(r io.Reader, length, maxSize int64) ([]byte, error) {
	if maxSize > 0 && length > maxSize {
		if _, err := io.CopyN(io.Discard, r, length); err != nil {
			return nil, fmt.Errorf("drain oversized frame: %w", err)
		}
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
