// Package store implements SessionStore: durable persistence of Session
// records keyed by their key_hash, with a lookup by owning master
// credential.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/veridex/core/internal/payments/corex"
	"github.com/veridex/core/internal/payments/perr"
)

// Store is the persistence boundary for Session records. Implementations
// must make Put/Get/Delete atomic with respect to a single key_hash, but
// need not serialize across different key_hashes.
type Store interface {
	Put(ctx context.Context, session corex.Session) error
	Get(ctx context.Context, keyHash [32]byte) (corex.Session, error)
	Delete(ctx context.Context, keyHash [32]byte) error
	ListByMaster(ctx context.Context, masterKeyHash [32]byte) ([]corex.Session, error)
}

// MemStore is an in-process Store backed by a mutex-guarded map, used in
// tests and in single-process deployments without Postgres configured.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[[32]byte]corex.Session
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[[32]byte]corex.Session)}
}

func (s *MemStore) Put(_ context.Context, session corex.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.KeyHash] = session
	return nil
}

func (s *MemStore) Get(_ context.Context, keyHash [32]byte) (corex.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[keyHash]
	if !ok {
		return corex.Session{}, perr.NewSessionInvalid("session not found", nil)
	}
	return session, nil
}

func (s *MemStore) Delete(_ context.Context, keyHash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, keyHash)
	return nil
}

func (s *MemStore) ListByMaster(_ context.Context, masterKeyHash [32]byte) ([]corex.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []corex.Session
	for _, session := range s.sessions {
		if session.MasterKeyHash == masterKeyHash {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Ledger.CreatedAt.Before(out[j].Ledger.CreatedAt)
	})
	return out, nil
}
