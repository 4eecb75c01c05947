// Package session implements SessionManager: validates, creates, loads,
// and revokes Sessions, composing CredentialVault, SessionStore, and
// SpendingLedger.
package session

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/ledger"
	"github.com/veridex/core/internal/payments/perr"
	"github.com/veridex/core/internal/payments/store"
	"github.com/veridex/core/internal/payments/token"
	"github.com/veridex/core/internal/payments/vault"
)

// Manager composes CredentialVault, SessionStore, SpendingLedger, and
// TokenVault into the Session lifecycle API.
//
// Per-key_hash mutual exclusion is kept in a map of mutexes, so that
// concurrent CheckLimits/RecordSpending calls against different sessions
// never contend with each other.
type Manager struct {
	vault  *vault.Vault
	store  store.Store
	tokens *token.Vault
	clock  corex.Clock
	rng    corex.Rng

	locksMu sync.Mutex
	locks   map[[32]byte]*sync.Mutex
}

// New constructs a Manager.
func New(v *vault.Vault, s store.Store, tokens *token.Vault, clock corex.Clock, rng corex.Rng) *Manager {
	return &Manager{
		vault:  v,
		store:  s,
		tokens: tokens,
		clock:  clock,
		rng:    rng,
		locks:  make(map[[32]byte]*sync.Mutex),
	}
}

// rngReader adapts a corex.Rng to io.Reader for ecdsa.GenerateKey, which
// requires a stream interface rather than a fixed-length Bytes() call.
type rngReader struct {
	rng corex.Rng
}

func (r rngReader) Read(p []byte) (int, error) {
	b, err := r.rng.Bytes(len(p))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(b), nil
}

func (m *Manager) lockFor(keyHash [32]byte) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[keyHash]
	if !ok {
		l = &sync.Mutex{}
		m.locks[keyHash] = l
	}
	return l
}

// validatePolicy enforces the structural invariants a Policy must satisfy
// before a session can be created under it.
func validatePolicy(p corex.Policy, now time.Time) error {
	if p.PerTxCapUSD <= 0 || p.PerTxCapUSD > p.DailyCapUSD {
		return perr.New(perr.KindPolicy, 0, "per_tx_cap_usd must be > 0 and <= daily_cap_usd", false, "adjust policy caps")
	}
	if !now.Before(p.ExpiresAt) {
		return perr.New(perr.KindPolicy, 0, "expires_at must be in the future", false, "adjust policy expiry")
	}
	if p.ExpiresAt.After(now.Add(24 * time.Hour)) {
		return perr.New(perr.KindPolicy, 0, "expires_at must be within 24h of creation", false, "adjust policy expiry")
	}
	if len(p.AllowedChainIDs) == 0 {
		return perr.New(perr.KindPolicy, 0, "allowed_chain_ids must be non-empty", false, "specify at least one chain")
	}
	return nil
}

// Create validates policy, generates a fresh secp256k1 session key, seals
// it under the master credential's derived key, persists, and returns the
// new Session. No network I/O.
func (m *Manager) Create(ctx context.Context, credentialID string, masterKeyHash [32]byte, policy corex.Policy) (corex.Session, error) {
	now := m.clock.Now()
	if err := validatePolicy(policy, now); err != nil {
		return corex.Session{}, err
	}

	priv, err := ecdsa.GenerateKey(crypto.S256(), rngReader{m.rng})
	if err != nil {
		return corex.Session{}, perr.Wrap(perr.KindCrypto, 0, "generate session key", false, "", err)
	}
	pubBytes := crypto.FromECDSAPub(&priv.PublicKey)
	keyHash := corex.KeyHash(pubBytes)

	sealed, err := m.vault.Seal(ctx, credentialID, crypto.FromECDSA(priv))
	if err != nil {
		return corex.Session{}, err
	}

	newSession := corex.Session{
		KeyHash:       keyHash,
		EncPrivateKey: sealed,
		PublicKey:     pubBytes,
		Policy:        policy,
		Ledger: corex.LedgerState{
			CreatedAt:    now,
			LastUsedAt:   now,
			DailyResetAt: now.Add(ledger.DailyWindow),
		},
		MasterKeyHash: masterKeyHash,
	}

	if err := m.store.Put(ctx, newSession); err != nil {
		return corex.Session{}, perr.Wrap(perr.KindInternal, 0, "persist session", true, "", err)
	}
	return newSession, nil
}

// Load delegates to the store without checking validity; callers ask
// explicitly via IsValid.
func (m *Manager) Load(ctx context.Context, keyHash [32]byte) (corex.Session, error) {
	s, err := m.store.Get(ctx, keyHash)
	if err != nil {
		return corex.Session{}, err
	}
	return s, nil
}

// CheckLimits evaluates SpendingLedger.Check against the session's current
// ledger without mutating persisted state.
func (m *Manager) CheckLimits(session corex.Session, amountUSD corex.Microdollars) ledger.Decision {
	now := m.clock.Now()
	return ledger.Check(&session, amountUSD, now)
}

// RecordSpending applies SpendingLedger.Record and persists the result,
// serialized per key_hash so that two concurrent spends against the same
// session can never race past each other's Check.
func (m *Manager) RecordSpending(ctx context.Context, keyHash [32]byte, amountUSD corex.Microdollars) error {
	lock := m.lockFor(keyHash)
	lock.Lock()
	defer lock.Unlock()

	s, err := m.store.Get(ctx, keyHash)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	decision := ledger.Check(&s, amountUSD, now)
	if !decision.Allowed {
		return perr.NewLimitExceeded(fmt.Sprintf("spend of %s denied: %s", amountUSD, decision.Reason))
	}

	ledger.Record(&s, amountUSD, now)

	if err := m.store.Put(ctx, s); err != nil {
		return perr.Wrap(perr.KindInternal, 0, "persist ledger update; Invariant 2 may be at risk", true, "quarantine and inspect session", err)
	}
	return nil
}

// Revoke deletes the session and cascades to TokenVault, idempotently.
func (m *Manager) Revoke(ctx context.Context, keyHash [32]byte) error {
	if err := m.store.Delete(ctx, keyHash); err != nil {
		return perr.Wrap(perr.KindInternal, 0, "delete session", true, "", err)
	}
	m.tokens.RevokeAllForSession(keyHash)
	return nil
}

// IsValid reports whether session has not expired and is still present in
// the store.
func (m *Manager) IsValid(ctx context.Context, session corex.Session) bool {
	if !m.clock.Now().Before(session.Policy.ExpiresAt) {
		return false
	}
	_, err := m.store.Get(ctx, session.KeyHash)
	return err == nil
}

// SessionsForMaster returns the valid sessions owned by a master credential.
func (m *Manager) SessionsForMaster(ctx context.Context, masterKeyHash [32]byte) ([]corex.Session, error) {
	all, err := m.store.ListByMaster(ctx, masterKeyHash)
	if err != nil {
		return nil, err
	}
	var valid []corex.Session
	for _, s := range all {
		if m.IsValid(ctx, s) {
			valid = append(valid, s)
		}
	}
	return valid, nil
}
