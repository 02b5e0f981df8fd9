// Package crypto implements the primitive operations of the sync core:
// password-based key derivation, authenticated envelope encryption,
// asymmetric key pairs for wrapping, and checksumming. All functions are
// pure over their inputs and safe for concurrent use.
package crypto

import (
	"fmt"

	"github.com/jmcleod/inkwell/internal/util"
)

const envelopeScheme = "aes256gcm"

// KDFParams records the derivation parameters an envelope's key came from,
// so any device holding the passphrase can re-derive it.
type KDFParams struct {
	Salt       []byte `json:"salt"`
	Iterations int    `json:"iterations"`
	Hash       string `json:"hash"`
}

// Envelope is the unit exchanged with untrusted storage: ciphertext, the
// nonce it was sealed under, and optionally the KDF parameters needed to
// re-derive the key. It is self-describing enough to attempt decryption
// given the right key and reveals nothing about the plaintext beyond
// ciphertext length.
type Envelope struct {
	Ver        int        `json:"ver"`
	Scheme     string     `json:"scheme"`
	Nonce      []byte     `json:"nonce"`
	Ciphertext []byte     `json:"ciphertext"`
	KDF        *KDFParams `json:"kdf,omitempty"`
}

// Encrypt seals plaintext under a 256-bit key with a fresh random nonce.
// The AAD is authenticated but not stored in the envelope; callers must
// supply the same AAD to Decrypt.
func Encrypt(plaintext, key, aad []byte) (*Envelope, error) {
	nonce, ciphertext, err := util.SealAESGCM(plaintext, key, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ver:        1,
		Scheme:     envelopeScheme,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt opens an envelope. Any tag mismatch fails closed with
// ErrIntegrity; partially decrypted data is never returned.
func Decrypt(env *Envelope, key, aad []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope must not be nil")
	}
	if env.Ver != 1 {
		return nil, fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	if env.Scheme != envelopeScheme {
		return nil, fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}

	plaintext, err := util.OpenAESGCM(env.Nonce, env.Ciphertext, key, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// EncryptWithPassphrase seals plaintext directly under a passphrase and
// stamps the envelope with the parameters the key was derived from, so
// the result is openable with nothing but the passphrase. Used for
// identity exports and other artifacts that outlive a session.
func EncryptWithPassphrase(plaintext []byte, passphrase string, aad []byte, opts ...KDFOption) (*Envelope, error) {
	o := kdfOptions{params: DefaultPBKDF2Params()}
	for _, opt := range opts {
		opt(&o)
	}
	key, salt, err := DeriveMasterKey(passphrase, nil, WithPBKDF2Params(o.params))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	env, err := Encrypt(plaintext, key, aad)
	if err != nil {
		return nil, err
	}
	env.KDF = &KDFParams{
		Salt:       salt,
		Iterations: o.params.Iterations,
		Hash:       o.params.Hash,
	}
	return env, nil
}

// DecryptWithPassphrase re-derives the key from the envelope's recorded
// KDF parameters and opens it. A wrong passphrase surfaces as
// ErrIntegrity, indistinguishable from tampering.
func DecryptWithPassphrase(env *Envelope, passphrase string, aad []byte) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("envelope must not be nil")
	}
	if env.KDF == nil {
		return nil, fmt.Errorf("envelope carries no KDF parameters")
	}
	params := PBKDF2Params{
		Iterations: env.KDF.Iterations,
		KeyLen:     MasterKeyLen,
		Hash:       env.KDF.Hash,
	}
	key, _, err := DeriveMasterKey(passphrase, env.KDF.Salt, WithPBKDF2Params(params))
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)
	return Decrypt(env, key, aad)
}

// Clone returns a deep copy of the envelope.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	cp := &Envelope{
		Ver:        e.Ver,
		Scheme:     e.Scheme,
		Nonce:      util.CopyBytes(e.Nonce),
		Ciphertext: util.CopyBytes(e.Ciphertext),
	}
	if e.KDF != nil {
		cp.KDF = &KDFParams{
			Salt:       util.CopyBytes(e.KDF.Salt),
			Iterations: e.KDF.Iterations,
			Hash:       e.KDF.Hash,
		}
	}
	return cp
}
