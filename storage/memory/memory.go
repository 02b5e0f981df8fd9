// Package memory provides thread-safe in-memory implementations of the
// storage interfaces. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jmcleod/inkwell/internal/util"
	"github.com/jmcleod/inkwell/storage"
)

// Store implements storage.BlobStore, storage.GrantStore, and
// storage.AccountStore in memory.
type Store struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	grants   map[string]*storage.Grant
	accounts map[string]*storage.Account
}

var (
	_ storage.BlobStore    = (*Store)(nil)
	_ storage.GrantStore   = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		blobs:    make(map[string][]byte),
		grants:   make(map[string]*storage.Grant),
		accounts: make(map[string]*storage.Account),
	}
}

func (s *Store) PutChunk(ctx context.Context, locator string, ciphertext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[locator] = util.CopyBytes(ciphertext)
	return nil
}

func (s *Store) GetChunk(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[locator]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return util.CopyBytes(b), nil
}

func (s *Store) CreateGrant(ctx context.Context, grant *storage.Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grant.ID]; ok {
		return storage.ErrAlreadyExists
	}
	s.grants[grant.ID] = cloneGrant(grant)
	return nil
}

func (s *Store) GetGrant(ctx context.Context, id string) (*storage.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneGrant(g), nil
}

// RedeemGrant checks expiry and quota and increments the use count while
// holding the store lock, so two racing redemptions cannot both pass a
// stale quota check.
func (s *Store) RedeemGrant(ctx context.Context, id string, now time.Time) (*storage.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if !g.ExpiresAt.IsZero() && !now.Before(g.ExpiresAt) {
		return nil, storage.ErrGrantExpired
	}
	if g.MaxUses > 0 && g.UseCount >= g.MaxUses {
		return nil, storage.ErrGrantExhausted
	}
	g.UseCount++
	return cloneGrant(g), nil
}

func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.grants, id)
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, account *storage.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.Principal]; ok {
		return storage.ErrAlreadyExists
	}
	s.accounts[account.Principal] = cloneAccount(account)
	return nil
}

func (s *Store) GetAccount(ctx context.Context, principal string) (*storage.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[principal]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccount(a), nil
}

func cloneGrant(g *storage.Grant) *storage.Grant {
	cp := *g
	cp.Payload = g.Payload.Clone()
	return &cp
}

func cloneAccount(a *storage.Account) *storage.Account {
	cp := *a
	cp.ProofHash = util.CopyBytes(a.ProofHash)
	cp.ProofSalt = util.CopyBytes(a.ProofSalt)
	cp.Profile = a.Profile.Clone()
	return &cp
}
