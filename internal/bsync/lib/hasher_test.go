package lib

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashing(t *testing.T) {
	// Known BLAKE3 digest for the string "hello world"
	const helloWorldHash = "d74981efa70a0c880b8d8c1985d075dbcbf679b99a5f9914e5aaf96b831a9e24"
	// Known BLAKE3 digest for an empty input
	const emptyHash = "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"

	t.Run("GetHash for in-memory content", func(t *testing.T) {
		assert.Equal(t, helloWorldHash, GetHash([]byte("hello world")))
	})

	t.Run("GetHash for empty content", func(t *testing.T) {
		assert.Equal(t, emptyHash, GetHash([]byte{}))
		assert.Equal(t, emptyHash, GetHash(nil))
	})

	t.Run("GetReaderHash agrees with GetHash on large input", func(t *testing.T) {
		content := bytes.Repeat([]byte("0123456789abcdef"), 10_000)

		hash, err := GetReaderHash(bytes.NewReader(content))

		require.NoError(t, err)
		assert.Equal(t, GetHash(content), hash)
	})

	t.Run("GetReaderHash streams", func(t *testing.T) {
		hash, err := GetReaderHash(bytes.NewReader([]byte("hello world")))
		require.NoError(t, err)
		assert.Equal(t, helloWorldHash, hash)
	})
}
