package crypto

import (
	"fmt"

	"github.com/jmcleod/inkwell/internal/util"
)

// PBKDF2Params configures password-based key derivation.
type PBKDF2Params = util.PBKDF2Params

const (
	// MasterKeyLen is the length of the symmetric master key.
	MasterKeyLen = 32
	// AuthProofLen is the length of the server-side login proof.
	AuthProofLen = 32
	// SaltLen is the length of generated KDF salts.
	SaltLen = 32

	// derivedBits covers both the master key and the auth proof in a single
	// KDF pass. The server only ever receives the proof half, so knowledge
	// of the proof reveals nothing about the encryption key.
	derivedBits = MasterKeyLen + AuthProofLen
)

// DefaultPBKDF2Params returns the production derivation parameters.
func DefaultPBKDF2Params() PBKDF2Params {
	return util.DefaultPBKDF2Params()
}

// ValidatePBKDF2Params checks parameters against the minimum acceptable
// iteration count and supported hash.
func ValidatePBKDF2Params(p PBKDF2Params) error {
	return util.ValidatePBKDF2Params(p)
}

// KDFOption customizes key derivation.
type KDFOption func(*kdfOptions)

type kdfOptions struct {
	params PBKDF2Params
}

// WithPBKDF2Params overrides the derivation parameters. Intended for tests
// and for re-deriving keys created under older parameter sets.
func WithPBKDF2Params(params PBKDF2Params) KDFOption {
	return func(o *kdfOptions) {
		o.params = params
	}
}

// DeriveMasterKey stretches a passphrase into the 256-bit symmetric master
// key. When salt is nil a fresh random salt is generated and returned;
// otherwise the derivation is deterministic, so every device re-derives
// the identical key from the user's passphrase without transmitting it.
func DeriveMasterKey(passphrase string, salt []byte, opts ...KDFOption) (key, usedSalt []byte, err error) {
	bits, usedSalt, err := deriveBits(passphrase, salt, opts...)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(bits)
	return util.CopyBytes(bits[:MasterKeyLen]), usedSalt, nil
}

// DeriveAuthProof derives the server-side login verifier from the same KDF
// run as the master key, using the output bits the master key does not.
// The server stores and compares only this proof, never the key.
func DeriveAuthProof(passphrase string, salt []byte, opts ...KDFOption) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("auth proof derivation requires the master key salt")
	}
	bits, _, err := deriveBits(passphrase, salt, opts...)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(bits)
	return util.CopyBytes(bits[MasterKeyLen:]), nil
}

// DeriveSessionKeys produces both the master key and the auth proof from a
// single KDF pass. Equivalent to DeriveMasterKey followed by
// DeriveAuthProof at half the derivation cost; used when unlocking a
// session.
func DeriveSessionKeys(passphrase string, salt []byte, opts ...KDFOption) (key, proof, usedSalt []byte, err error) {
	bits, usedSalt, err := deriveBits(passphrase, salt, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	defer util.WipeBytes(bits)
	return util.CopyBytes(bits[:MasterKeyLen]), util.CopyBytes(bits[MasterKeyLen:]), usedSalt, nil
}

func deriveBits(passphrase string, salt []byte, opts ...KDFOption) (bits, usedSalt []byte, err error) {
	o := kdfOptions{params: DefaultPBKDF2Params()}
	for _, opt := range opts {
		opt(&o)
	}

	usedSalt = util.CopyBytes(salt)
	if len(usedSalt) == 0 {
		usedSalt, err = util.RandomBytes(SaltLen)
		if err != nil {
			return nil, nil, fmt.Errorf("generating KDF salt: %w", err)
		}
	}

	bits, err = util.DerivePBKDF2Key(util.Normalize(passphrase), usedSalt, o.params.Iterations, derivedBits)
	if err != nil {
		return nil, nil, err
	}
	return bits, usedSalt, nil
}
