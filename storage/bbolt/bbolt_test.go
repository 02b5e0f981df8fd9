package bbolt

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromFile(filepath.Join(t.TempDir(), "inkwell.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testGrant(t *testing.T, id string, maxUses uint32, expiresAt time.Time) *storage.Grant {
	t.Helper()
	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	env, err := crypto.Encrypt([]byte("payload"), key, nil)
	require.NoError(t, err)
	return &storage.Grant{
		ID:        id,
		Owner:     "alice",
		Payload:   env,
		ExpiresAt: expiresAt,
		MaxUses:   maxUses,
		CreatedAt: time.Now().UTC(),
	}
}

func TestBlobRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "loc-1", []byte("ciphertext")))
	got, err := s.GetChunk(ctx, "loc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)

	_, err = s.GetChunk(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGrantRedeem(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateGrant(ctx, testGrant(t, "g-1", 1, time.Time{})))

	g, err := s.RedeemGrant(ctx, "g-1", now)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), g.UseCount)

	_, err = s.RedeemGrant(ctx, "g-1", now)
	assert.ErrorIs(t, err, storage.ErrGrantExhausted)

	// The payload envelope survives the JSON round trip intact.
	stored, err := s.GetGrant(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Payload.Ver)
	assert.Len(t, stored.Payload.Nonce, 12)
}

func TestGrantExpiry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateGrant(ctx, testGrant(t, "g-exp", 0, now.Add(-time.Second))))
	_, err := s.RedeemGrant(ctx, "g-exp", now)
	assert.ErrorIs(t, err, storage.ErrGrantExpired)
}

func TestGrantRedeemRace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateGrant(ctx, testGrant(t, "g-race", 1, time.Time{})))

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RedeemGrant(ctx, "g-race", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes int
	for err := range results {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes)
}

func TestAccounts(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	acct := &storage.Account{
		Principal: "alice",
		ProofHash: []byte("hash"),
		ProofSalt: []byte("salt"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateAccount(ctx, acct))
	assert.ErrorIs(t, s.CreateAccount(ctx, acct), storage.ErrAlreadyExists)

	got, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, acct.ProofHash, got.ProofHash)
}
