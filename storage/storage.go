// Package storage defines the server-side persistence contract of the sync
// core. Every record a store holds is either ciphertext (envelopes, chunk
// blobs) or public derivation metadata; nothing here ever carries a raw
// key or plaintext.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/keyring"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a create collided with an existing record.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrGrantExpired indicates a grant's expiry has passed.
	ErrGrantExpired = errors.New("grant expired")
	// ErrGrantExhausted indicates a grant's use quota is spent.
	ErrGrantExhausted = errors.New("grant exhausted")
)

// BlobStore holds encrypted chunk bytes by opaque locator. The pipeline
// assumes nothing beyond read-after-write consistency for a given locator;
// locators are idempotent, so retried uploads are safe.
type BlobStore interface {
	PutChunk(ctx context.Context, locator string, ciphertext []byte) error
	GetChunk(ctx context.Context, locator string) ([]byte, error)
}

// Grant is a time/use-limited disclosure record. The decryption key for
// the payload is never part of this record; it travels only in the link
// fragment the server never receives.
type Grant struct {
	ID        string           `json:"id"`
	Owner     string           `json:"owner"`
	Payload   *crypto.Envelope `json:"payload"`
	ExpiresAt time.Time        `json:"expires_at,omitempty"` // zero means no expiry
	MaxUses   uint32           `json:"max_uses,omitempty"`   // zero means unlimited
	UseCount  uint32           `json:"use_count"`
	CreatedAt time.Time        `json:"created_at"`
}

// GrantStore persists share grants. RedeemGrant performs the quota check
// and increment as a single atomic operation against the given server
// clock reading; two racing redemptions of a one-use grant must not both
// succeed.
type GrantStore interface {
	CreateGrant(ctx context.Context, grant *Grant) error
	GetGrant(ctx context.Context, id string) (*Grant, error)
	RedeemGrant(ctx context.Context, id string, now time.Time) (*Grant, error)
	DeleteGrant(ctx context.Context, id string) error
}

// Account is a principal's login record: a salted hash of the auth proof
// (the proof itself is already one-way derived from the passphrase, but it
// is still never stored raw) and the public KDF profile new devices need
// to re-derive the master key.
type Account struct {
	Principal string          `json:"principal"`
	ProofHash []byte          `json:"proof_hash"`
	ProofSalt []byte          `json:"proof_salt"`
	Profile   keyring.Profile `json:"profile"`
	CreatedAt time.Time       `json:"created_at"`
}

// AccountStore persists login records.
type AccountStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	GetAccount(ctx context.Context, principal string) (*Account, error)
}
