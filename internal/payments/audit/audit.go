// Package audit implements AuditLog: an append-only record of payment
// attempts with filtered, paginated retrieval. The in-memory/Postgres
// split mirrors store.Store.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridex/core/internal/payments/corex"
)

// DefaultLimit and DefaultOffset are the audit query's pagination defaults.
const (
	DefaultLimit  = 50
	DefaultOffset = 0
)

// Filter narrows a Query call. A zero value selects every record (subject
// to Limit/Offset).
type Filter struct {
	ChainID        *int
	SessionKeyHash *[32]byte
	StartTime      *time.Time
	EndTime        *time.Time
	Limit          int
	Offset         int
}

func (f Filter) normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Offset < 0 {
		f.Offset = DefaultOffset
	}
	return f
}

func (f Filter) matches(r corex.PaymentRecord) bool {
	if f.ChainID != nil && r.ChainID != *f.ChainID {
		return false
	}
	if f.SessionKeyHash != nil && r.SessionKeyHash != *f.SessionKeyHash {
		return false
	}
	if f.StartTime != nil && r.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && r.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Log is the append-only write/read contract. Implementations never
// mutate or delete a record once logged.
type Log interface {
	Append(ctx context.Context, record corex.PaymentRecord, sessionKeyHash [32]byte) (corex.PaymentRecord, error)
	Query(ctx context.Context, filter Filter) ([]corex.PaymentRecord, error)
}

// MemLog is an in-process Log, used in tests and as a degraded-mode
// fallback when Postgres is unavailable.
type MemLog struct {
	mu      sync.RWMutex
	records []corex.PaymentRecord
	nowFunc func() time.Time
}

// NewMemLog constructs a MemLog. clock supplies the append timestamp.
func NewMemLog(clock corex.Clock) *MemLog {
	return &MemLog{nowFunc: clock.Now}
}

// Append assigns a unique id and timestamp and appends the record.
func (m *MemLog) Append(_ context.Context, record corex.PaymentRecord, sessionKeyHash [32]byte) (corex.PaymentRecord, error) {
	record.ID = uuid.NewString()
	record.Timestamp = m.nowFunc()
	record.SessionKeyHash = sessionKeyHash

	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()

	return record, nil
}

// Query filters, sorts by timestamp descending, and paginates.
func (m *MemLog) Query(_ context.Context, filter Filter) ([]corex.PaymentRecord, error) {
	filter = filter.normalized()

	m.mu.RLock()
	matched := make([]corex.PaymentRecord, 0, len(m.records))
	for _, r := range m.records {
		if filter.matches(r) {
			matched = append(matched, r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset >= len(matched) {
		return []corex.PaymentRecord{}, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], nil
}
