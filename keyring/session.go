// Package keyring holds derived key material for an authenticated session.
// A Session is an explicit object passed to cryptographic call sites, never
// a process-wide singleton, so multiple sessions can coexist in one process
// and tests stay deterministic. Raw key bytes live inside memguard enclaves
// and are never written to persistent storage.
package keyring

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/inkwell/crypto"
	icrypto "github.com/jmcleod/inkwell/internal/crypto"
	"github.com/jmcleod/inkwell/internal/util"
)

const fileKeyInfo = "inkwell:file-key:v1"

// FileKeyRecord is a per-attachment symmetric key wrapped under the master
// key. It is embedded in attachment metadata and only ever unwrapped
// transiently during upload or download.
type FileKeyRecord struct {
	FileID     string           `json:"file_id"`
	WrappedKey *crypto.Envelope `json:"wrapped_key"`
}

// Session holds the master key material for an unlocked session. Callers
// must Close() the session (e.g. on logout) to wipe key material.
type Session struct {
	mu        sync.Mutex
	master    *memguard.Enclave
	authProof []byte
	keypair   *crypto.KeyPair
	closed    bool
}

// UnlockOption customizes session creation.
type UnlockOption func(*unlockOptions)

type unlockOptions struct {
	identity bool
	kdfOpts  []crypto.KDFOption
}

// WithIdentity generates an X25519 key pair held alongside the master key,
// for receiving wrapped keys from other parties.
func WithIdentity() UnlockOption {
	return func(o *unlockOptions) {
		o.identity = true
	}
}

// WithKDFOptions forwards options to the underlying key derivation.
func WithKDFOptions(opts ...crypto.KDFOption) UnlockOption {
	return func(o *unlockOptions) {
		o.kdfOpts = append(o.kdfOpts, opts...)
	}
}

// Unlock derives the master key and auth proof from the passphrase and
// profile, and seals the key into an in-memory enclave. The caller should
// verify the auth proof against the server before performing bulk
// decryption, so a wrong passphrase surfaces as ErrAuthentication rather
// than a stream of integrity failures.
func Unlock(passphrase string, profile Profile, opts ...UnlockOption) (*Session, error) {
	o := unlockOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if len(profile.Salt) == 0 {
		return nil, fmt.Errorf("profile salt must not be empty")
	}

	kdfOpts := append([]crypto.KDFOption{crypto.WithPBKDF2Params(profile.Params)}, o.kdfOpts...)
	key, proof, _, err := crypto.DeriveSessionKeys(passphrase, profile.Salt, kdfOpts...)
	if err != nil {
		return nil, err
	}

	s := &Session{
		master:    memguard.NewEnclave(key), // NewEnclave wipes the source slice
		authProof: proof,
	}

	if o.identity {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		s.keypair = &kp
	}

	return s, nil
}

// AuthProof returns a copy of the server-side login proof.
func (s *Session) AuthProof() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	return util.CopyBytes(s.authProof), nil
}

// VerifyAuthProof compares an expected proof in constant time, returning
// crypto.ErrAuthentication on mismatch. This is how a wrong passphrase is
// distinguished from corrupt ciphertext.
func (s *Session) VerifyAuthProof(expected []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if subtle.ConstantTimeCompare(s.authProof, expected) != 1 {
		return crypto.ErrAuthentication
	}
	return nil
}

// KeyPair returns the session identity key pair, if one was generated.
func (s *Session) KeyPair() (crypto.KeyPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.keypair == nil {
		return crypto.KeyPair{}, false
	}
	return *s.keypair, true
}

// Seal encrypts plaintext under the master key.
func (s *Session) Seal(plaintext, aad []byte) (*crypto.Envelope, error) {
	return s.withMaster(func(master []byte) (*crypto.Envelope, error) {
		return crypto.Encrypt(plaintext, master, aad)
	})
}

// Open decrypts an envelope sealed under the master key.
func (s *Session) Open(env *crypto.Envelope, aad []byte) ([]byte, error) {
	var plaintext []byte
	_, err := s.withMaster(func(master []byte) (*crypto.Envelope, error) {
		var err error
		plaintext, err = crypto.Decrypt(env, master, aad)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// FileKey derives the per-attachment key for fileID. Bulk content is never
// encrypted under the master key directly: a per-file key limits blast
// radius if a single file's key leaks and removes nonce-reuse pressure
// across unrelated large payloads.
func (s *Session) FileKey(fileID string) ([]byte, error) {
	if fileID == "" {
		return nil, fmt.Errorf("file ID must not be empty")
	}
	var fileKey []byte
	_, err := s.withMaster(func(master []byte) (*crypto.Envelope, error) {
		var err error
		fileKey, err = util.HKDF(master, []byte(fileID), []byte(fileKeyInfo))
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return fileKey, nil
}

// WrapFileKey seals a per-file key under the master key for embedding in
// attachment metadata.
func (s *Session) WrapFileKey(fileID string, fileKey []byte) (*FileKeyRecord, error) {
	env, err := s.Seal(fileKey, icrypto.AADFileKeyWrap(fileID, 1))
	if err != nil {
		return nil, err
	}
	return &FileKeyRecord{FileID: fileID, WrappedKey: env}, nil
}

// UnwrapFileKey recovers a per-file key from its record. The caller must
// wipe the returned key after use.
func (s *Session) UnwrapFileKey(rec *FileKeyRecord) ([]byte, error) {
	if rec == nil || rec.WrappedKey == nil {
		return nil, fmt.Errorf("file key record must not be nil")
	}
	return s.Open(rec.WrappedKey, icrypto.AADFileKeyWrap(rec.FileID, 1))
}

const identityExportVersion = 1

// ExportIdentity seals the session's identity private key under a
// passphrase for transfer to another device. The envelope records its
// own derivation parameters, so the receiving device needs nothing but
// the passphrase to import it.
func (s *Session) ExportIdentity(passphrase string, opts ...crypto.KDFOption) (*crypto.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.keypair == nil {
		return nil, fmt.Errorf("session has no identity key pair")
	}
	return crypto.EncryptWithPassphrase(s.keypair.Private[:], passphrase,
		icrypto.AADIdentity(identityExportVersion), opts...)
}

// ImportIdentity installs an exported identity key pair into the
// session, recomputing the public half from the recovered private key.
func (s *Session) ImportIdentity(env *crypto.Envelope, passphrase string) error {
	priv, err := crypto.DecryptWithPassphrase(env, passphrase, icrypto.AADIdentity(identityExportVersion))
	if err != nil {
		return err
	}
	defer util.WipeBytes(priv)
	if len(priv) != 32 {
		return fmt.Errorf("identity export has unexpected key length %d", len(priv))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	var scalar [32]byte
	copy(scalar[:], priv)
	kp := util.X25519KeypairFromPrivate(scalar)
	util.WipeArray32(&scalar)
	s.keypair = &kp
	return nil
}

// Close wipes the session's key material. Further use of the session
// returns ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	util.WipeBytes(s.authProof)
	if s.keypair != nil {
		util.WipeArray32(&s.keypair.Private)
	}
	s.master = nil
}

func (s *Session) withMaster(fn func(master []byte) (*crypto.Envelope, error)) (*crypto.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	buf, err := s.master.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}
