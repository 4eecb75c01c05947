// Package alert implements AlertBus: threshold tracking with hysteresis,
// a high-value approval workflow, and synchronous subscriber fan-out.
// Its latch-tracking state is a per-key map guarded by its own mutex,
// mutated under lock by a handful of small methods.
package alert

import (
	"sync"
	"time"

	"github.com/veridex/core/internal/payments/corex"
)

// DefaultThresholds is the out-of-the-box latch ladder.
var DefaultThresholds = []float64{0.5, 0.8, 0.9, 1.0}

// DefaultHighValueThresholdUSD is the default is_high_value boundary.
const DefaultHighValueThresholdUSD = corex.Microdollars(1000 * corex.MicroScale)

// DefaultApprovalWindow bounds how long a requested Approval stays pending.
const DefaultApprovalWindow = 5 * time.Minute

// hysteresisResetRatio is the only reset path for latched thresholds.
const hysteresisResetRatio = 0.1

// Subscriber receives a synchronous, best-effort callback per Alert.
type Subscriber func(corex.Alert)

type latchState struct {
	fired map[float64]bool
}

type approvalState struct {
	approval  corex.Approval
	expiresAt time.Time
}

// Bus is the stateful threshold tracker and approval registry.
type Bus struct {
	thresholds          []float64
	highValueThresholdUSD corex.Microdollars
	clock               corex.Clock

	mu       sync.Mutex
	latches  map[[32]byte]*latchState
	approvals map[string]*approvalState

	subMu       sync.RWMutex
	subscribers []Subscriber
}

// New constructs a Bus with the given thresholds (nil = DefaultThresholds)
// and high-value boundary (0 = DefaultHighValueThresholdUSD).
func New(clock corex.Clock, thresholds []float64, highValueThresholdUSD corex.Microdollars) *Bus {
	if thresholds == nil {
		thresholds = append([]float64{}, DefaultThresholds...)
	}
	if highValueThresholdUSD == 0 {
		highValueThresholdUSD = DefaultHighValueThresholdUSD
	}
	return &Bus{
		thresholds:            thresholds,
		highValueThresholdUSD: highValueThresholdUSD,
		clock:                 clock,
		latches:               make(map[[32]byte]*latchState),
		approvals:             make(map[string]*approvalState),
	}
}

// Subscribe registers fn for synchronous, best-effort delivery of every
// fired Alert.
func (b *Bus) Subscribe(fn Subscriber) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

func (b *Bus) publish(a corex.Alert) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, sub := range b.subscribers {
		sub(a)
	}
}

// OnSpending evaluates the ratio of dailySpent/dailyCap against the
// threshold ladder for sessionKeyHash, firing and latching any newly
// crossed threshold, and applying the hysteresis reset rule.
func (b *Bus) OnSpending(sessionKeyHash [32]byte, dailySpent, dailyCap corex.Microdollars) {
	if dailyCap <= 0 {
		return
	}
	ratio := float64(dailySpent) / float64(dailyCap)

	b.mu.Lock()
	state, ok := b.latches[sessionKeyHash]
	if !ok {
		state = &latchState{fired: make(map[float64]bool)}
		b.latches[sessionKeyHash] = state
	}

	if ratio < hysteresisResetRatio {
		state.fired = make(map[float64]bool)
		b.mu.Unlock()
		return
	}

	var toFire []float64
	for _, t := range b.thresholds {
		if ratio >= t && !state.fired[t] {
			state.fired[t] = true
			toFire = append(toFire, t)
		}
	}
	b.mu.Unlock()

	now := b.clock.Now()
	for _, t := range toFire {
		severity := corex.SeverityWarning
		if t >= 0.9 {
			severity = corex.SeverityCritical
		}
		b.publish(corex.Alert{
			Severity:       severity,
			Reason:         thresholdReason(t),
			SessionKeyHash: sessionKeyHash,
			DailySpentUSD:  dailySpent,
			DailyCapUSD:    dailyCap,
			Timestamp:      now,
		})
	}
}

func thresholdReason(t float64) string {
	switch {
	case t >= 1.0:
		return "daily spending limit reached"
	case t >= 0.9:
		return "daily spending at 90% of limit"
	case t >= 0.8:
		return "daily spending at 80% of limit"
	default:
		return "daily spending at 50% of limit"
	}
}

// IsHighValue reports whether amountUSD meets or exceeds the high-value
// boundary.
func (b *Bus) IsHighValue(amountUSD corex.Microdollars) bool {
	return amountUSD >= b.highValueThresholdUSD
}

// RequestApproval records a pending Approval for txID and emits a critical
// alert.
func (b *Bus) RequestApproval(txID string, amountUSD corex.Microdollars) corex.Approval {
	now := b.clock.Now()
	expiresAt := now.Add(DefaultApprovalWindow)
	approval := corex.Approval{
		TransactionID: txID,
		AmountUSD:     amountUSD,
		RequestedAt:   now,
		ExpiresAt:     expiresAt,
		Approved:      false,
	}

	b.mu.Lock()
	b.approvals[txID] = &approvalState{approval: approval, expiresAt: expiresAt}
	b.mu.Unlock()

	b.publish(corex.Alert{
		Severity:  corex.SeverityCritical,
		Reason:    "high-value transaction requires approval: " + amountUSD.String(),
		Timestamp: now,
	})

	return approval
}

// Approve flips approved=true for txID iff it is still within its
// approval window, evicting stale entries as a side effect.
func (b *Bus) Approve(txID string, approverKey string) bool {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.approvals[txID]
	if !ok {
		return false
	}
	if !now.Before(state.expiresAt) {
		delete(b.approvals, txID)
		return false
	}

	state.approval.Approved = true
	state.approval.ApprovedBy = &approverKey
	return true
}

// CheckApproval is a read-only lookup that evicts on expiry.
func (b *Bus) CheckApproval(txID string) (approved bool, expired bool) {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.approvals[txID]
	if !ok {
		return false, true
	}
	if !now.Before(state.expiresAt) {
		delete(b.approvals, txID)
		return false, true
	}
	return state.approval.Approved, false
}
