// Package codec turns entities into sealed wire payloads and back.
//
// A payload is the CBOR encoding of a types.Entity, compressed with zstd and
// sealed with XChaCha20-Poly1305 under the pre-shared key:
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The version byte is bound as additional authenticated data. Payloads travel
// inside length-prefixed frames (see WriteFrame and ReadFrameHeader).
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/gingerrexayers/bsync-go/internal/bsync/lib"
	"github.com/gingerrexayers/bsync-go/internal/bsync/types"
)

// KeySize is the size in bytes of the pre-shared symmetric key.
const KeySize = chacha20poly1305.KeySize

// PayloadVersion is prepended to every sealed payload and authenticated as AAD.
const PayloadVersion byte = 0x01

// PayloadOverhead is the fixed per-payload cost: version + nonce + tag.
const PayloadOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

var (
	// ErrDecryption is returned when a payload fails authentication: wrong key
	// or tampered bytes.
	ErrDecryption = errors.New("payload decryption failed")
	// ErrMalformedPayload is returned when a payload authenticates but its
	// contents are not a valid entity.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrFrameTooLarge is returned for frames above the configured maximum.
	ErrFrameTooLarge = errors.New("frame too large")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Modification times are compared for equality across cycles, so keep
	// full nanosecond precision.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Codec seals and opens entity payloads. It is safe for concurrent use.
type Codec struct {
	aead    cipher.AEAD
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Option customizes a Codec.
type Option func(*options)

type options struct {
	maxFrameSize int64
}

// WithMaxFrameSize sets the largest payload the Codec will be asked to open.
// Decompression is bounded at twice that size, so a small payload cannot
// expand without limit. The default is DefaultMaxFrameSize.
func WithMaxFrameSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}

// New creates a Codec keyed by the pre-shared secret. The key must be exactly
// KeySize bytes.
func New(key []byte, opts ...Option) (*Codec, error) {
	o := options{maxFrameSize: DefaultMaxFrameSize}
	for _, opt := range opts {
		opt(&o)
	}

	if len(key) != KeySize {
		return nil, fmt.Errorf("key is %d bytes, expected %d", len(key), KeySize)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(2*uint64(o.maxFrameSize)))
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{aead: aead, encoder: encoder, decoder: decoder}, nil
}

// Encode serializes, compresses and seals an entity. The returned payload is
// the body of one frame. LocalPath is never encoded.
func (c *Codec) Encode(entity types.Entity) ([]byte, error) {
	plain, err := encMode.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode entity %s: %w", entity.DisplayPath(), err)
	}
	compressed := c.encoder.EncodeAll(plain, nil)

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), PayloadOverhead+len(compressed))
	out[0] = PayloadVersion
	copy(out[1:], nonce[:])
	return c.aead.Seal(out, nonce[:], compressed, []byte{PayloadVersion}), nil
}

// Decode opens a payload produced by Encode and returns the validated entity.
//
// It fails with ErrDecryption when authentication fails and with
// ErrMalformedPayload when the payload is truncated, uses an unknown version or
// does not hold a well-formed entity.
func (c *Codec) Decode(payload []byte) (types.Entity, error) {
	if len(payload) < PayloadOverhead {
		return types.Entity{}, fmt.Errorf("%w: payload is %d bytes, minimum is %d", ErrMalformedPayload, len(payload), PayloadOverhead)
	}
	if payload[0] != PayloadVersion {
		return types.Entity{}, fmt.Errorf("%w: unsupported payload version %d", ErrMalformedPayload, payload[0])
	}

	nonce := payload[1 : 1+chacha20poly1305.NonceSizeX]
	sealed := payload[1+chacha20poly1305.NonceSizeX:]
	compressed, err := c.aead.Open(nil, nonce, sealed, payload[:1])
	if err != nil {
		return types.Entity{}, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plain, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return types.Entity{}, fmt.Errorf("%w: decompress: %v", ErrMalformedPayload, err)
	}

	var entity types.Entity
	if err := decMode.Unmarshal(plain, &entity); err != nil {
		return types.Entity{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate(entity); err != nil {
		return types.Entity{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return entity, nil
}

func validate(e types.Entity) error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown entity kind %d", e.Kind)
	}
	if e.ClientID == "" {
		return errors.New("missing client id")
	}
	if e.RootLabel == "" {
		return errors.New("missing root label")
	}
	if e.RelativePath == "" {
		return errors.New("missing relative path")
	}
	if e.Deleted {
		return nil
	}
	if e.IsFolder() && len(e.Content) > 0 {
		return errors.New("folder entity carries content")
	}
	if e.IsFile() && e.Digest != lib.GetHash(e.Content) {
		return fmt.Errorf("content digest mismatch for %s", e.DisplayPath())
	}
	return nil
}
