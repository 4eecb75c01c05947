package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/store"
)

func testSession(keyHash byte, master byte) corex.Session {
	now := time.Now().UTC()
	var kh, mkh [32]byte
	kh[0] = keyHash
	mkh[0] = master
	return corex.Session{
		KeyHash:       kh,
		EncPrivateKey: []byte("sealed"),
		PublicKey:     []byte("pubkey"),
		Policy: corex.Policy{
			DailyCapUSD:     corex.FromFloat(50),
			PerTxCapUSD:     corex.FromFloat(10),
			ExpiresAt:       now.Add(24 * time.Hour),
			AllowedChainIDs: []int{8453},
		},
		Ledger: corex.LedgerState{
			CreatedAt:    now,
			LastUsedAt:   now,
			DailyResetAt: now.Add(24 * time.Hour),
		},
		MasterKeyHash: mkh,
	}
}

func TestMemStorePutGetRoundTrip(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	session := testSession(1, 9)

	require.NoError(t, s.Put(ctx, session))

	got, err := s.Get(ctx, session.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, session, got)
}

func TestMemStoreGetMissingReturnsError(t *testing.T) {
	s := store.NewMemStore()
	_, err := s.Get(context.Background(), [32]byte{0xFF})
	require.Error(t, err)
}

func TestMemStoreDeleteRemovesSession(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	session := testSession(2, 9)
	require.NoError(t, s.Put(ctx, session))

	require.NoError(t, s.Delete(ctx, session.KeyHash))

	_, err := s.Get(ctx, session.KeyHash)
	require.Error(t, err)
}

func TestMemStoreListByMasterFiltersAndOrders(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()

	first := testSession(1, 9)
	first.Ledger.CreatedAt = time.Now().UTC().Add(-time.Hour)
	second := testSession(2, 9)
	second.Ledger.CreatedAt = time.Now().UTC()
	other := testSession(3, 8)

	require.NoError(t, s.Put(ctx, second))
	require.NoError(t, s.Put(ctx, first))
	require.NoError(t, s.Put(ctx, other))

	var mkh [32]byte
	mkh[0] = 9
	list, err := s.ListByMaster(ctx, mkh)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.KeyHash, list[0].KeyHash)
	assert.Equal(t, second.KeyHash, list[1].KeyHash)
}

func TestMemStorePutOverwritesExisting(t *testing.T) {
	s := store.NewMemStore()
	ctx := context.Background()
	session := testSession(1, 9)
	require.NoError(t, s.Put(ctx, session))

	session.Ledger.TxCount = 5
	require.NoError(t, s.Put(ctx, session))

	got, err := s.Get(ctx, session.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Ledger.TxCount)
}
