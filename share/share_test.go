package share

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/inkwell/crypto"
	"github.com/jmcleod/inkwell/storage"
	"github.com/jmcleod/inkwell/storage/memory"
)

func TestGrantRoundTrip(t *testing.T) {
	svc := NewService(memory.NewStore())
	ctx := context.Background()
	payload := []byte("the disclosed note body")

	grant, key, err := svc.CreateGrant(ctx, "alice", payload)
	require.NoError(t, err)
	require.NotEmpty(t, grant.ID)
	assert.Equal(t, "alice", grant.Owner)

	got, err := svc.RedeemGrant(ctx, grant.ID, key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGrantWrongKey(t *testing.T) {
	svc := NewService(memory.NewStore())
	ctx := context.Background()

	grant, _, err := svc.CreateGrant(ctx, "alice", []byte("secret"))
	require.NoError(t, err)

	wrong, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	_, err = svc.RedeemGrant(ctx, grant.ID, wrong)
	assert.ErrorIs(t, err, crypto.ErrIntegrity)
}

func TestGrantExpiry(t *testing.T) {
	now := time.Now().UTC()
	clock := now
	var mu sync.Mutex
	svc := NewService(memory.NewStore(), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}))
	ctx := context.Background()

	grant, key, err := svc.CreateGrant(ctx, "alice", []byte("secret"), WithTTL(time.Hour))
	require.NoError(t, err)

	_, err = svc.RedeemGrant(ctx, grant.ID, key)
	require.NoError(t, err)

	mu.Lock()
	clock = now.Add(2 * time.Hour)
	mu.Unlock()
	_, err = svc.RedeemGrant(ctx, grant.ID, key)
	assert.ErrorIs(t, err, storage.ErrGrantExpired)
}

func TestGrantSingleUseRace(t *testing.T) {
	svc := NewService(memory.NewStore())
	ctx := context.Background()

	grant, key, err := svc.CreateGrant(ctx, "alice", []byte("secret"), WithMaxUses(1))
	require.NoError(t, err)

	const redeemers = 16
	var succeeded atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RedeemGrant(ctx, grant.ID, key); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), succeeded.Load())

	_, err = svc.RedeemGrant(ctx, grant.ID, key)
	assert.ErrorIs(t, err, storage.ErrGrantExhausted)
}

func TestGrantRevoke(t *testing.T) {
	svc := NewService(memory.NewStore())
	ctx := context.Background()

	grant, key, err := svc.CreateGrant(ctx, "alice", []byte("secret"))
	require.NoError(t, err)

	err = svc.RevokeGrant(ctx, "mallory", grant.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	require.NoError(t, svc.RevokeGrant(ctx, "alice", grant.ID))
	_, err = svc.RedeemGrant(ctx, grant.ID, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShareLink(t *testing.T) {
	base, err := url.Parse("https://notes.example.com")
	require.NoError(t, err)

	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)
	link := FormatLink(base, "grant-123", key)

	gotID, gotKey, err := ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, "grant-123", gotID)
	assert.Equal(t, key, gotKey)

	t.Run("rejects missing fragment", func(t *testing.T) {
		_, _, err := ParseLink("https://notes.example.com/share/grant-123")
		assert.ErrorIs(t, err, ErrMalformedLink)
	})
	t.Run("rejects missing id", func(t *testing.T) {
		_, _, err := ParseLink("https://notes.example.com/share/#AAAA")
		assert.ErrorIs(t, err, ErrMalformedLink)
	})
}

func TestWrapKeyForRecipient(t *testing.T) {
	pair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	key, err := crypto.NewSymmetricKey()
	require.NoError(t, err)

	wrap, err := WrapKeyForRecipient(pair.Public, "grant-123", key)
	require.NoError(t, err)

	got, err := UnwrapKeyFromSender(pair.Private, "grant-123", wrap)
	require.NoError(t, err)
	assert.Equal(t, key, got)

	// Rebinding the wrap to a different grant must fail.
	_, err = UnwrapKeyFromSender(pair.Private, "grant-456", wrap)
	assert.Error(t, err)
}
