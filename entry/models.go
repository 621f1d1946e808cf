// Package entry defines the immutable credit ledger entry and the pure
// functions that derive the reservation lifecycle state for one
// (session, generation) pair from its entry list.
//
// The ledger is append-only and doubles as the concurrency-control
// mechanism: there is no separate lock table. Whether a reservation,
// charge, or refund already happened for a generation is always recomputed
// from the entries themselves, which makes every lifecycle operation safe
// to replay.
package entry

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
)

// Reason tags a ledger entry with the accounting event that produced it.
type Reason string

const (
	ReasonPurchase    Reason = "purchase"     // credits bought, delta > 0
	ReasonReservation Reason = "reservation"  // provisional hold, delta < 0
	ReasonGeneration  Reason = "generation"   // settled charge, delta < 0
	ReasonRefund      Reason = "refund"       // reversal, delta > 0
	ReasonAdminRefund Reason = "admin_refund" // operator credit, delta > 0
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonReservation, ReasonGeneration, ReasonRefund, ReasonAdminRefund:
		return true
	}
	return false
}

// Entry is one immutable accounting event. Entries are never mutated or
// deleted after the append.
type Entry struct {
	ID           id.EntryID   `json:"id"`
	SessionID    id.SessionID `json:"session_id"`
	Delta        int64        `json:"delta"`
	Reason       Reason       `json:"reason"`
	GenerationID string       `json:"generation_id,omitempty"`
	ModelID      string       `json:"model_id,omitempty"`
	CostUSD      float64      `json:"cost_usd,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Clone returns a copy of the entry.
func (e *Entry) Clone() *Entry {
	dup := *e
	return &dup
}

// State is the derived lifecycle state of one (session, generation) pair.
type State string

const (
	StateUnseen   State = "unseen"   // no lifecycle entries exist
	StateReserved State = "reserved" // an uncompensated reservation holds funds
	StateSettled  State = "settled"  // a generation charge exists
	StateReleased State = "released" // the reservation was fully refunded
)

// ──────────────────────────────────────────────────
// Lifecycle derivation
// ──────────────────────────────────────────────────

// NetDelta sums the deltas of lifecycle entries (reservation, generation,
// refund). A negative result means a reservation or charge already exists
// for this generation.
func NetDelta(entries []*Entry) int64 {
	var net int64
	for _, e := range entries {
		switch e.Reason {
		case ReasonReservation, ReasonGeneration, ReasonRefund:
			net += e.Delta
		}
	}
	return net
}

// ReservedTotal sums the absolute deltas of reservation entries.
func ReservedTotal(entries []*Entry) int64 {
	var total int64
	for _, e := range entries {
		if e.Reason == ReasonReservation {
			if e.Delta < 0 {
				total -= e.Delta
			} else {
				total += e.Delta
			}
		}
	}
	return total
}

// RefundedTotal sums the deltas of refund entries.
func RefundedTotal(entries []*Entry) int64 {
	var total int64
	for _, e := range entries {
		if e.Reason == ReasonRefund {
			total += e.Delta
		}
	}
	return total
}

// ReservedOutstanding is the reserved amount not yet returned by refunds.
// Zero or negative means nothing is left to release.
func ReservedOutstanding(entries []*Entry) int64 {
	return ReservedTotal(entries) - RefundedTotal(entries)
}

// HasReservation reports whether any reservation entry exists.
func HasReservation(entries []*Entry) bool {
	for _, e := range entries {
		if e.Reason == ReasonReservation {
			return true
		}
	}
	return false
}

// HasGeneration reports whether a settled charge exists.
func HasGeneration(entries []*Entry) bool {
	for _, e := range entries {
		if e.Reason == ReasonGeneration {
			return true
		}
	}
	return false
}

// Derive computes the lifecycle state for the entries of one
// (session, generation) pair.
func Derive(entries []*Entry) State {
	switch {
	case HasGeneration(entries):
		return StateSettled
	case !HasReservation(entries):
		return StateUnseen
	case ReservedOutstanding(entries) <= 0:
		return StateReleased
	default:
		return StateReserved
	}
}

// ──────────────────────────────────────────────────
// Store
// ──────────────────────────────────────────────────

// ListOpts filters a ledger entry listing.
type ListOpts struct {
	GenerationID string
	Reason       Reason
	Limit        int
	Offset       int
}

// Store is the narrow read interface for ledger entries. Appends happen
// only inside store-level ledger transactions, never through this
// interface.
type Store interface {
	List(ctx context.Context, sid id.SessionID, opts ListOpts) ([]*Entry, error)
}
