// Package lib contains the core, reusable services for the bsync application.
package lib

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// GetHash calculates the BLAKE3 digest of an in-memory byte slice and returns it
// as a lowercase hex-encoded string.
// This is used for file content that has already been read for sending.
func GetHash(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GetReaderHash calculates the BLAKE3 digest of everything readable from r.
func GetReaderHash(r io.Reader) (string, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
