package util

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds an X25519 keypair used for key wrapping between devices.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateX25519Keypair returns a fresh keypair with a clamped private
// scalar.
func GenerateX25519Keypair() (KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("generating X25519 private key: %w", err)
	}

	// Clamp per RFC 7748.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	return X25519KeypairFromPrivate(priv), nil
}

// X25519KeypairFromPrivate rebuilds a keypair from a stored private
// scalar, recomputing the public half. The scalar must already be
// clamped.
func X25519KeypairFromPrivate(priv [32]byte) KeyPair {
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return KeyPair{Private: priv, Public: pub}
}

// SharedSecret computes the Diffie-Hellman secret between a private
// scalar and a peer's public key.
func SharedSecret(priv [32]byte, pub [32]byte) ([32]byte, error) {
	secret, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return [32]byte{}, fmt.Errorf("deriving shared secret: %w", err)
	}
	var res [32]byte
	copy(res[:], secret)
	return res, nil
}
