// Package share implements capability-style disclosure of encrypted
// content. A grant stores the disclosed payload re-encrypted under a
// fresh single-purpose key; the key itself travels only in the share
// link's URL fragment, which browsers and HTTP clients never transmit to
// the server. The server can therefore enforce expiry and use quotas
// without ever being able to read what it is disclosing.
package share

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/inkwell/crypto"
	icrypto "github.com/jmcleod/inkwell/internal/crypto"
	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

const grantVersion = 1

// Service creates, redeems, and revokes share grants against a grant
// store.
type Service struct {
	store storage.GrantStore
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a share service over store.
func NewService(store storage.GrantStore, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantOption narrows a grant at creation time.
type GrantOption func(*storage.Grant)

// WithExpiry sets an absolute expiry. Redemptions at or after the
// deadline fail.
func WithExpiry(at time.Time) GrantOption {
	return func(g *storage.Grant) {
		g.ExpiresAt = at
	}
}

// WithTTL sets the expiry relative to creation time.
func WithTTL(ttl time.Duration) GrantOption {
	return func(g *storage.Grant) {
		g.ExpiresAt = g.CreatedAt.Add(ttl)
	}
}

// WithMaxUses caps the number of successful redemptions.
func WithMaxUses(n uint32) GrantOption {
	return func(g *storage.Grant) {
		g.MaxUses = n
	}
}

// SealGrant encrypts payload under a fresh key and binds the ciphertext
// to a new grant ID. It does not persist anything, so remote clients can
// seal locally and upload only ciphertext. The returned key is the only
// way to read the disclosed payload.
func SealGrant(owner string, payload []byte, opts ...GrantOption) (*storage.Grant, []byte, error) {
	return sealGrant(owner, payload, time.Now().UTC(), opts...)
}

func sealGrant(owner string, payload []byte, createdAt time.Time, opts ...GrantOption) (*storage.Grant, []byte, error) {
	if owner == "" {
		return nil, nil, fmt.Errorf("owner must not be empty")
	}
	key, err := crypto.NewSymmetricKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generating grant key: %w", err)
	}

	grant := &storage.Grant{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: createdAt,
	}
	for _, opt := range opts {
		opt(grant)
	}

	env, err := crypto.Encrypt(payload, key, icrypto.AADGrant(grant.ID, grantVersion))
	if err != nil {
		util.WipeBytes(key)
		return nil, nil, fmt.Errorf("sealing grant payload: %w", err)
	}
	grant.Payload = env
	return grant, key, nil
}

// OpenGrant decrypts a redeemed grant's payload with the link-fragment
// key. Used by redeeming clients after the server meters the use.
func OpenGrant(grant *storage.Grant, key []byte) ([]byte, error) {
	payload, err := crypto.Decrypt(grant.Payload, key, icrypto.AADGrant(grant.ID, grantVersion))
	if err != nil {
		return nil, fmt.Errorf("opening grant payload: %w", err)
	}
	return payload, nil
}

// CreateGrant seals payload with SealGrant and persists the result. The
// service retains no copy of the returned key.
func (s *Service) CreateGrant(ctx context.Context, owner string, payload []byte, opts ...GrantOption) (*storage.Grant, []byte, error) {
	grant, key, err := sealGrant(owner, payload, s.now().UTC(), opts...)
	if err != nil {
		return nil, nil, err
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		util.WipeBytes(key)
		return nil, nil, fmt.Errorf("persisting grant: %w", err)
	}
	return grant, key, nil
}

// RedeemGrant consumes one use of the grant and decrypts its payload with
// the link-fragment key. The quota check and increment happen atomically
// in the store, so two racing redemptions of a one-use grant cannot both
// succeed. Decryption happens locally after redemption; the key never
// reaches the store.
func (s *Service) RedeemGrant(ctx context.Context, id string, key []byte) ([]byte, error) {
	grant, err := s.store.RedeemGrant(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return OpenGrant(grant, key)
}

// RevokeGrant deletes a grant. Only the owner that created the grant may
// revoke it; revocation is immediate and affects all outstanding links.
func (s *Service) RevokeGrant(ctx context.Context, owner, id string) error {
	grant, err := s.store.GetGrant(ctx, id)
	if err != nil {
		return err
	}
	if grant.Owner != owner {
		return ErrNotOwner
	}
	return s.store.DeleteGrant(ctx, id)
}

// WrapKeyForRecipient seals a grant key to a recipient's public key, for
// handing a link fragment over an untrusted channel. Only the matching
// private key can recover it.
func WrapKeyForRecipient(recipientPub [32]byte, grantID string, key []byte) (*icrypto.SealedWrap, error) {
	return icrypto.SealToRecipient(recipientPub, key, icrypto.AADGrant(grantID, grantVersion))
}

// UnwrapKeyFromSender recovers a grant key sealed with WrapKeyForRecipient.
func UnwrapKeyFromSender(recipientPriv [32]byte, grantID string, wrap *icrypto.SealedWrap) ([]byte, error) {
	return icrypto.OpenFromRecipient(recipientPriv, wrap, icrypto.AADGrant(grantID, grantVersion))
}
