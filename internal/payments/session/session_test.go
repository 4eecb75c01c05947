package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/session"
	"github.com/veridex/core/internal/payments/store"
	"github.com/veridex/core/internal/payments/token"
	"github.com/veridex/core/internal/payments/vault"
)

func newManager(now time.Time) (*session.Manager, *corex.FixedClock) {
	clock := corex.NewFixedClock(now)
	v := vault.New(vault.NewStaticDeriver([]byte("test-master-secret")))
	s := store.NewMemStore()
	tokens := token.New(clock, corex.CryptoRng{}, nil)
	return session.New(v, s, tokens, clock, corex.CryptoRng{}), clock
}

func validPolicy(now time.Time) corex.Policy {
	return corex.Policy{
		DailyCapUSD:     corex.FromFloat(50),
		PerTxCapUSD:     corex.FromFloat(10),
		ExpiresAt:       now.Add(time.Hour),
		AllowedChainIDs: []int{8453},
	}
}

func TestCreateGeneratesDistinctSessions(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte
	masterHash[0] = 1

	s1, err := mgr.Create(ctx, "cred-1", masterHash, validPolicy(now))
	require.NoError(t, err)
	s2, err := mgr.Create(ctx, "cred-1", masterHash, validPolicy(now))
	require.NoError(t, err)

	assert.NotEqual(t, s1.KeyHash, s2.KeyHash)
	assert.NotEmpty(t, s1.EncPrivateKey)
	assert.NotEqual(t, s1.PublicKey, []byte(nil))
}

func TestCreateRejectsInvalidPolicy(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	policy := validPolicy(now)
	policy.PerTxCapUSD = policy.DailyCapUSD + 1

	_, err := mgr.Create(ctx, "cred-1", masterHash, policy)
	require.Error(t, err)
}

func TestCreateRejectsExpiryBeyond24h(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	policy := validPolicy(now)
	policy.ExpiresAt = now.Add(48 * time.Hour)

	_, err := mgr.Create(ctx, "cred-1", masterHash, policy)
	require.Error(t, err)
}

func TestLoadReturnsPersistedSession(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	created, err := mgr.Create(ctx, "cred-1", masterHash, validPolicy(now))
	require.NoError(t, err)

	loaded, err := mgr.Load(ctx, created.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, created.KeyHash, loaded.KeyHash)
}

func TestRecordSpendingPersistsLedgerUpdate(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	created, err := mgr.Create(ctx, "cred-1", masterHash, validPolicy(now))
	require.NoError(t, err)

	require.NoError(t, mgr.RecordSpending(ctx, created.KeyHash, corex.FromFloat(5)))

	reloaded, err := mgr.Load(ctx, created.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, corex.FromFloat(5), reloaded.Ledger.DailySpentUSD)
	assert.Equal(t, int64(1), reloaded.Ledger.TxCount)
}

func TestRecordSpendingRejectsOverLimit(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	created, err := mgr.Create(ctx, "cred-1", masterHash, validPolicy(now))
	require.NoError(t, err)

	err = mgr.RecordSpending(ctx, created.KeyHash, corex.FromFloat(11))
	require.Error(t, err)
}

func TestRevokeRemovesSessionAndIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	mgr, _ := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	created, err := mgr.Create(ctx, "cred-1", masterHash, validPolicy(now))
	require.NoError(t, err)

	require.NoError(t, mgr.Revoke(ctx, created.KeyHash))
	require.NoError(t, mgr.Revoke(ctx, created.KeyHash))

	_, err = mgr.Load(ctx, created.KeyHash)
	assert.Error(t, err)
}

func TestIsValidFalseAfterExpiry(t *testing.T) {
	now := time.Now().UTC()
	mgr, clock := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte

	policy := validPolicy(now)
	policy.ExpiresAt = now.Add(time.Minute)
	created, err := mgr.Create(ctx, "cred-1", masterHash, policy)
	require.NoError(t, err)

	assert.True(t, mgr.IsValid(ctx, created))

	clock.Advance(2 * time.Minute)
	assert.False(t, mgr.IsValid(ctx, created))
}

func TestSessionsForMasterFiltersExpired(t *testing.T) {
	now := time.Now().UTC()
	mgr, clock := newManager(now)
	ctx := context.Background()
	var masterHash [32]byte
	masterHash[0] = 3

	shortLived := validPolicy(now)
	shortLived.ExpiresAt = now.Add(time.Minute)
	_, err := mgr.Create(ctx, "cred-1", masterHash, shortLived)
	require.NoError(t, err)

	longLived := validPolicy(now)
	longLived.ExpiresAt = now.Add(time.Hour)
	_, err = mgr.Create(ctx, "cred-1", masterHash, longLived)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	sessions, err := mgr.SessionsForMaster(ctx, masterHash)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}
