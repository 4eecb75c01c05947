// Package ledger implements SpendingLedger: pure arithmetic over a
// Session's ledger field. No I/O, no floating point.
package ledger

import (
	"time"

	"github.com/veridex/core/internal/payments/corex"
)

// DailyWindow is the rolling spending-limit window duration.
const DailyWindow = 24 * time.Hour

// Decision is the outcome of Check.
type Decision struct {
	Allowed      bool
	Reason       string
	RemainingUSD corex.Microdollars
}

// Allow constructs an allowing Decision.
func Allow(remaining corex.Microdollars) Decision {
	return Decision{Allowed: true, RemainingUSD: remaining}
}

// Deny constructs a denying Decision.
func Deny(reason string, remaining corex.Microdollars) Decision {
	return Decision{Allowed: false, Reason: reason, RemainingUSD: remaining}
}

// AdvanceWindow rolls the daily spending window forward if it has elapsed,
// zeroing daily_spent_usd. It mutates ledger in place and is always
// called before any limit decision is made.
func AdvanceWindow(state *corex.LedgerState, now time.Time) {
	if !now.Before(state.DailyResetAt) {
		state.DailySpentUSD = 0
		state.DailyResetAt = now.Add(DailyWindow)
	}
}

// Check evaluates whether amountUSD may be spent against session's policy
// and ledger at now. It advances the window as a side effect before
// deciding, so a read is never answered against a stale, unrolled window.
func Check(session *corex.Session, amountUSD corex.Microdollars, now time.Time) Decision {
	AdvanceWindow(&session.Ledger, now)

	if !now.Before(session.Policy.ExpiresAt) {
		return Deny("expired", 0)
	}

	remainingDaily := session.Policy.DailyCapUSD - session.Ledger.DailySpentUSD

	if amountUSD > session.Policy.PerTxCapUSD {
		return Deny("per-transaction limit", remainingDaily)
	}
	if session.Ledger.DailySpentUSD+amountUSD > session.Policy.DailyCapUSD {
		return Deny("daily limit", remainingDaily)
	}
	return Allow(remainingDaily - amountUSD)
}

// Record applies a spend to session's ledger. The caller must have just
// observed Check(session, amountUSD, now) return Allowed=true for the same
// arguments; Record does not re-validate.
func Record(session *corex.Session, amountUSD corex.Microdollars, now time.Time) {
	session.Ledger.DailySpentUSD += amountUSD
	session.Ledger.TotalSpentUSD += amountUSD
	session.Ledger.TxCount++
	session.Ledger.LastUsedAt = now
}
