package util

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Params configures password-based key derivation. Iterations is
// deliberately tunable so deployments can keep pace with hardware; the
// minimum is enforced by ValidatePBKDF2Params.
type PBKDF2Params struct {
	Iterations int    `json:"iterations"`
	KeyLen     int    `json:"key_len"`
	Hash       string `json:"hash"`
}

const (
	// MinPBKDF2Iterations is the floor for production key derivation.
	MinPBKDF2Iterations = 600_000

	pbkdf2Hash = "sha256"
)

func DefaultPBKDF2Params() PBKDF2Params {
	return PBKDF2Params{
		Iterations: MinPBKDF2Iterations,
		KeyLen:     32,
		Hash:       pbkdf2Hash,
	}
}

// ValidatePBKDF2Params checks that the given parameters meet the minimum
// acceptable thresholds.
func ValidatePBKDF2Params(p PBKDF2Params) error {
	if p.Iterations < MinPBKDF2Iterations {
		return fmt.Errorf("pbkdf2 iterations %d below minimum %d", p.Iterations, MinPBKDF2Iterations)
	}
	if p.KeyLen != 32 && p.KeyLen != 64 {
		return fmt.Errorf("pbkdf2 key length must be 32 or 64 bytes, got %d", p.KeyLen)
	}
	if p.Hash != pbkdf2Hash {
		return fmt.Errorf("unsupported pbkdf2 hash %q", p.Hash)
	}
	return nil
}

// DerivePBKDF2Key stretches a normalized passphrase into keyLen bytes.
// Deterministic given the same passphrase, salt, and params, so every
// device re-derives identical key material without the passphrase ever
// leaving the device.
func DerivePBKDF2Key(passphrase string, salt []byte, iterations, keyLen int) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("pbkdf2 salt must not be empty")
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("pbkdf2 iterations must be positive")
	}
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keyLen, sha256.New), nil
}

// ComparePBKDF2Key re-derives the key and compares in constant time.
func ComparePBKDF2Key(passphrase string, salt []byte, iterations int, expectedKey []byte) (bool, error) {
	key, err := DerivePBKDF2Key(passphrase, salt, iterations, len(expectedKey))
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
