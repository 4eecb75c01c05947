// Package token implements TokenVault: short-lived opaque payment tokens
// minted from a Session, validated and revoked independently of the
// session's own lifecycle.
package token

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/veridex/core/internal/payments/corex"
)

// DefaultTTL is used when Mint is called without an explicit ttl.
const DefaultTTL = 5 * time.Minute

// entry is the index value kept for one outstanding token.
type entry struct {
	sessionKeyHash [32]byte
	limits         corex.LimitsSnapshot
	expiresAt      time.Time
}

// SessionExpiryChecker lets Vault ask whether the underlying session has
// itself expired, without importing the session package (which imports
// token), avoiding an import cycle.
type SessionExpiryChecker func(keyHash [32]byte) (expired bool, ok bool)

// Vault is an in-memory index of outstanding payment tokens, keyed by the
// opaque token string.
type Vault struct {
	clock          corex.Clock
	rng            corex.Rng
	sessionExpired SessionExpiryChecker

	mu    sync.RWMutex
	index map[string]entry
}

// New constructs a Vault. sessionExpired may be nil; when set, Validate
// also rejects tokens whose underlying session has expired.
func New(clock corex.Clock, rng corex.Rng, sessionExpired SessionExpiryChecker) *Vault {
	return &Vault{
		clock:          clock,
		rng:            rng,
		sessionExpired: sessionExpired,
		index:          make(map[string]entry),
	}
}

// ValidateReason enumerates why Validate rejected a token.
type ValidateReason string

const (
	ReasonNotFound           ValidateReason = "not found"
	ReasonMalformed          ValidateReason = "malformed"
	ReasonExpired            ValidateReason = "expired"
	ReasonUnderlyingExpired  ValidateReason = "underlying session expired"
)

// Mint creates a new PaymentToken bound to session, capped at the
// session's own expiry.
func (v *Vault) Mint(session corex.Session, ttl time.Duration) (corex.PaymentToken, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := v.clock.Now()
	expiresAt := now.Add(ttl)
	if session.Policy.ExpiresAt.Before(expiresAt) {
		expiresAt = session.Policy.ExpiresAt
	}

	nonceBytes, err := v.rng.Bytes(16)
	if err != nil {
		return corex.PaymentToken{}, fmt.Errorf("token: generate nonce: %w", err)
	}
	var nonce [16]byte
	copy(nonce[:], nonceBytes)

	limits := corex.SnapshotOf(session.Policy)

	wire := corex.PaymentTokenWire{
		KeyHash:   corex.HexEncode(session.KeyHash[:]),
		Type:      corex.PaymentTokenType,
		Limits: corex.PaymentTokenLimits{
			DailyLimitUSD:          limits.DailyLimitUSD.String(),
			PerTransactionLimitUSD: limits.PerTransactionUSD.String(),
		},
		ExpiresAt: expiresAt.Unix(),
		Nonce:     corex.HexEncode(nonce[:]),
	}
	encoded, err := json.Marshal(wire)
	if err != nil {
		return corex.PaymentToken{}, fmt.Errorf("token: marshal envelope: %w", err)
	}
	tokenString := corex.Base64URLEncode(encoded)

	v.mu.Lock()
	v.index[tokenString] = entry{
		sessionKeyHash: session.KeyHash,
		limits:         limits,
		expiresAt:      expiresAt,
	}
	v.mu.Unlock()

	return corex.PaymentToken{
		TokenString:    tokenString,
		SessionKeyHash: session.KeyHash,
		LimitsSnapshot: limits,
		ExpiresAt:      expiresAt,
		Nonce:          nonce,
	}, nil
}

// Validate checks tokenString against the index and, if present, against
// the underlying session's own expiry.
func (v *Vault) Validate(tokenString string) (corex.PaymentToken, ValidateReason, bool) {
	v.mu.RLock()
	e, ok := v.index[tokenString]
	v.mu.RUnlock()

	if !ok {
		if _, structurallyValid := decodeStructural(tokenString); structurallyValid {
			return corex.PaymentToken{}, ReasonNotFound, false
		}
		return corex.PaymentToken{}, ReasonMalformed, false
	}

	now := v.clock.Now()
	if !now.Before(e.expiresAt) {
		v.mu.Lock()
		delete(v.index, tokenString)
		v.mu.Unlock()
		return corex.PaymentToken{}, ReasonExpired, false
	}

	if v.sessionExpired != nil {
		if expired, checked := v.sessionExpired(e.sessionKeyHash); checked && expired {
			v.mu.Lock()
			delete(v.index, tokenString)
			v.mu.Unlock()
			return corex.PaymentToken{}, ReasonUnderlyingExpired, false
		}
	}

	return corex.PaymentToken{
		TokenString:    tokenString,
		SessionKeyHash: e.sessionKeyHash,
		LimitsSnapshot: e.limits,
		ExpiresAt:      e.expiresAt,
	}, "", true
}

func decodeStructural(tokenString string) (corex.PaymentTokenWire, bool) {
	decoded, err := corex.Base64URLDecode(tokenString)
	if err != nil {
		return corex.PaymentTokenWire{}, false
	}
	var wire corex.PaymentTokenWire
	if err := json.Unmarshal(decoded, &wire); err != nil {
		return corex.PaymentTokenWire{}, false
	}
	if wire.Type != corex.PaymentTokenType {
		return corex.PaymentTokenWire{}, false
	}
	return wire, true
}

// Refresh atomically validates oldToken, removes it, and mints a new one
// bound to the given (presumably freshly-loaded) session. Returns ok=false
// if oldToken was not valid.
func (v *Vault) Refresh(oldToken string, session corex.Session, ttl time.Duration) (corex.PaymentToken, bool) {
	_, _, ok := v.Validate(oldToken)
	if !ok {
		return corex.PaymentToken{}, false
	}
	if !v.Revoke(oldToken) {
		return corex.PaymentToken{}, false
	}
	newToken, err := v.Mint(session, ttl)
	if err != nil {
		return corex.PaymentToken{}, false
	}
	return newToken, true
}

// Revoke removes tokenString from the index; idempotent.
func (v *Vault) Revoke(tokenString string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, existed := v.index[tokenString]
	delete(v.index, tokenString)
	return existed
}

// RevokeAllForSession removes every outstanding token bound to keyHash,
// called from SessionManager.Revoke to cascade revocation.
func (v *Vault) RevokeAllForSession(keyHash [32]byte) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	count := 0
	for tokenString, e := range v.index {
		if e.sessionKeyHash == keyHash {
			delete(v.index, tokenString)
			count++
		}
	}
	return count
}

// Cleanup removes every index entry whose expiry has passed, for a
// background ticker to call periodically.
func (v *Vault) Cleanup() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.clock.Now()
	count := 0
	for tokenString, e := range v.index {
		if !now.Before(e.expiresAt) {
			delete(v.index, tokenString)
			count++
		}
	}
	return count
}
