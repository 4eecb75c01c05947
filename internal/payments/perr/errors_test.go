package perr_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridex/core/internal/payments/perr"
)

func TestErrorMessageIncludesCauseAndCode(t *testing.T) {
	cause := errors.New("connection reset")
	err := perr.NewNetworkError("facilitator /settle request failed", cause)

	assert.Contains(t, err.Error(), "5001")
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, err.Retryable)
	assert.Equal(t, perr.KindTransient, err.Kind)
}

func TestErrorUnwrapPreservesChain(t *testing.T) {
	sentinel := errors.New("boom")
	err := perr.NewTokenInvalid("malformed token envelope", sentinel)

	require.ErrorIs(t, err, sentinel)
}

func TestSessionExpiredIsNotRetryable(t *testing.T) {
	err := perr.NewSessionExpired("create a new session")
	assert.False(t, err.Retryable)
	assert.Equal(t, perr.SessionExpired, err.Code)
	assert.Equal(t, perr.KindPolicy, err.Kind)
}

func TestLimitExceededCarriesRemediation(t *testing.T) {
	err := perr.NewLimitExceeded("daily cap of $50.00 would be exceeded")
	assert.NotEmpty(t, err.Remediation)
	assert.Equal(t, perr.LimitExceeded, err.Code)
}

func TestStableNumericCodes(t *testing.T) {
	assert.Equal(t, perr.Code(1001), perr.SessionExpired)
	assert.Equal(t, perr.Code(1002), perr.SessionRevoked)
	assert.Equal(t, perr.Code(1003), perr.SessionInvalid)
	assert.Equal(t, perr.Code(2001), perr.LimitExceeded)
	assert.Equal(t, perr.Code(4001), perr.PaymentFailed)
	assert.Equal(t, perr.Code(4002), perr.PaymentTimeout)
	assert.Equal(t, perr.Code(5001), perr.NetworkError)
	assert.Equal(t, perr.Code(6001), perr.X402ParseError)
	assert.Equal(t, perr.Code(7001), perr.TokenExpired)
	assert.Equal(t, perr.Code(7002), perr.TokenInvalid)
	assert.Equal(t, perr.Code(7003), perr.TokenRevoked)
}
