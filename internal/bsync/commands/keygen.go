package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/gingerrexayers/bsync-go/internal/bsync/codec"
)

// Keygen prints a new random key suitable for the [security] key setting.
func Keygen(w io.Writer) error {
	key := make([]byte, codec.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}
	_, err := fmt.Fprintln(outputOrStdout(w), base64.StdEncoding.EncodeToString(key))
	return err
}
