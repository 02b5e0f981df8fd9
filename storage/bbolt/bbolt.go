// Package bbolt provides BBolt-backed implementations of the storage
// interfaces for durable single-node deployments.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/inkwell/storage"
)

var (
	bucketBlobs    = []byte("blobs")
	bucketGrants   = []byte("grants")
	bucketAccounts = []byte("accounts")
)

// Store implements the storage interfaces backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var (
	_ storage.BlobStore    = (*Store)(nil)
	_ storage.GrantStore   = (*Store)(nil)
	_ storage.AccountStore = (*Store)(nil)
)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketBlobs, bucketGrants, bucketAccounts} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreFromFile opens a BBolt database at the given path.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db)
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PutChunk(ctx context.Context, locator string, ciphertext []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(locator), ciphertext)
	})
}

func (s *Store) GetChunk(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketBlobs).Get([]byte(locator))
		if data == nil {
			return fmt.Errorf("%s: %w", locator, storage.ErrNotFound)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateGrant(ctx context.Context, grant *storage.Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGrants)
		if b.Get([]byte(grant.ID)) != nil {
			return storage.ErrAlreadyExists
		}
		data, err := json.Marshal(grant)
		if err != nil {
			return err
		}
		return b.Put([]byte(grant.ID), data)
	})
}

func (s *Store) GetGrant(ctx context.Context, id string) (*storage.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var grant storage.Grant
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketGrants).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &grant)
	})
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// RedeemGrant runs the quota check and increment inside a single write
// transaction. BBolt serializes writers, so concurrent redemptions of a
// one-use grant cannot both observe a stale use count.
func (s *Store) RedeemGrant(ctx context.Context, id string, now time.Time) (*storage.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var grant storage.Grant
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGrants)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
		}
		if err := json.Unmarshal(data, &grant); err != nil {
			return err
		}
		if !grant.ExpiresAt.IsZero() && !now.Before(grant.ExpiresAt) {
			return storage.ErrGrantExpired
		}
		if grant.MaxUses > 0 && grant.UseCount >= grant.MaxUses {
			return storage.ErrGrantExhausted
		}
		grant.UseCount++
		updated, err := json.Marshal(&grant)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), updated)
	})
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (s *Store) DeleteGrant(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketGrants)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("%s: %w", id, storage.ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) CreateAccount(ctx context.Context, account *storage.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get([]byte(account.Principal)) != nil {
			return storage.ErrAlreadyExists
		}
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		return b.Put([]byte(account.Principal), data)
	})
}

func (s *Store) GetAccount(ctx context.Context, principal string) (*storage.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var account storage.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get([]byte(principal))
		if data == nil {
			return fmt.Errorf("%s: %w", principal, storage.ErrNotFound)
		}
		return json.Unmarshal(data, &account)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}
