package token_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/token"
)

func testSession(now time.Time) corex.Session {
	var kh [32]byte
	kh[0] = 7
	return corex.Session{
		KeyHash: kh,
		Policy: corex.Policy{
			DailyCapUSD:     corex.FromFloat(50),
			PerTxCapUSD:     corex.FromFloat(10),
			ExpiresAt:       now.Add(time.Hour),
			AllowedChainIDs: []int{8453},
		},
	}
}

func TestMintProducesValidatableToken(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(clock.Now())

	tok, err := v.Mint(session, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.TokenString)

	validated, reason, ok := v.Validate(tok.TokenString)
	require.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, session.KeyHash, validated.SessionKeyHash)
}

func TestMintCapsExpiryToSessionExpiry(t *testing.T) {
	now := time.Now().UTC()
	clock := corex.NewFixedClock(now)
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(now)
	session.Policy.ExpiresAt = now.Add(30 * time.Second)

	tok, err := v.Mint(session, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, session.Policy.ExpiresAt, tok.ExpiresAt)
}

func TestValidateRejectsUnknownButStructurallyValidToken(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v1 := token.New(clock, corex.CryptoRng{}, nil)
	v2 := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(clock.Now())

	tok, err := v1.Mint(session, time.Minute)
	require.NoError(t, err)

	_, reason, ok := v2.Validate(tok.TokenString)
	require.False(t, ok)
	assert.Equal(t, token.ReasonNotFound, reason)
}

func TestValidateRejectsMalformedToken(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v := token.New(clock, corex.CryptoRng{}, nil)

	_, reason, ok := v.Validate("not-a-real-token-%%%")
	require.False(t, ok)
	assert.Equal(t, token.ReasonMalformed, reason)
}

func TestValidateExpiresAndEvicts(t *testing.T) {
	now := time.Now().UTC()
	clock := corex.NewFixedClock(now)
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(now)

	tok, err := v.Mint(session, time.Second)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	_, reason, ok := v.Validate(tok.TokenString)
	require.False(t, ok)
	assert.Equal(t, token.ReasonExpired, reason)

	_, _, ok = v.Validate(tok.TokenString)
	require.False(t, ok)
}

func TestValidateRejectsWhenUnderlyingSessionExpired(t *testing.T) {
	now := time.Now().UTC()
	clock := corex.NewFixedClock(now)
	v := token.New(clock, corex.CryptoRng{}, func(keyHash [32]byte) (bool, bool) {
		return true, true
	})
	session := testSession(now)

	tok, err := v.Mint(session, time.Hour)
	require.NoError(t, err)

	_, reason, ok := v.Validate(tok.TokenString)
	require.False(t, ok)
	assert.Equal(t, token.ReasonUnderlyingExpired, reason)
}

func TestRefreshMintsNewTokenAndRevokesOld(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(clock.Now())

	oldTok, err := v.Mint(session, time.Minute)
	require.NoError(t, err)

	newTok, ok := v.Refresh(oldTok.TokenString, session, time.Minute)
	require.True(t, ok)
	assert.NotEqual(t, oldTok.TokenString, newTok.TokenString)

	_, _, ok = v.Validate(oldTok.TokenString)
	assert.False(t, ok)

	_, _, ok = v.Validate(newTok.TokenString)
	assert.True(t, ok)
}

func TestRefreshFailsOnInvalidOldToken(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(clock.Now())

	_, ok := v.Refresh("garbage", session, time.Minute)
	assert.False(t, ok)
}

func TestRevokeIsIdempotent(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(clock.Now())

	tok, err := v.Mint(session, time.Minute)
	require.NoError(t, err)

	assert.True(t, v.Revoke(tok.TokenString))
	assert.False(t, v.Revoke(tok.TokenString))
}

func TestRevokeAllForSessionCascades(t *testing.T) {
	clock := corex.NewFixedClock(time.Now().UTC())
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(clock.Now())

	tok1, err := v.Mint(session, time.Minute)
	require.NoError(t, err)
	tok2, err := v.Mint(session, time.Minute)
	require.NoError(t, err)

	count := v.RevokeAllForSession(session.KeyHash)
	assert.Equal(t, 2, count)

	_, _, ok := v.Validate(tok1.TokenString)
	assert.False(t, ok)
	_, _, ok = v.Validate(tok2.TokenString)
	assert.False(t, ok)
}

func TestCleanupRemovesExpiredEntriesOnly(t *testing.T) {
	now := time.Now().UTC()
	clock := corex.NewFixedClock(now)
	v := token.New(clock, corex.CryptoRng{}, nil)
	session := testSession(now)

	expiring, err := v.Mint(session, time.Second)
	require.NoError(t, err)
	fresh, err := v.Mint(session, time.Hour)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	count := v.Cleanup()
	assert.Equal(t, 1, count)

	_, _, ok := v.Validate(expiring.TokenString)
	assert.False(t, ok)
	_, _, ok = v.Validate(fresh.TokenString)
	assert.True(t, ok)
}
