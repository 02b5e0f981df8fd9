package crypto

import "github.com/jmcleod/inkwell/internal/util"

// KeyPair holds an X25519 public/private key pair for key-wrapping
// scenarios where a key must be sealed by someone who does not hold the
// symmetric master key.
type KeyPair = util.KeyPair

// GenerateKeyPair generates a new X25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	return util.GenerateX25519Keypair()
}

// NewSymmetricKey generates a fresh random 256-bit symmetric key.
func NewSymmetricKey() ([]byte, error) {
	return util.NewAESKey()
}
