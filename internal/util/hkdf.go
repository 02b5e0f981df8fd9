package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF expands seed into a 256-bit subkey bound to salt and info. Used
// to derive per-file keys from the master key, so the master key itself
// never touches bulk content.
func HKDF(seed, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, seed, salt, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("expanding HKDF output: %w", err)
	}
	return key, nil
}
