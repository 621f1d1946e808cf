package credits

import (
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/session"
)

// Re-export common types for convenience so users don't have to import subpackages.

// Session is re-exported from the session package.
type Session = session.Session

// Tier is re-exported from the session package.
type Tier = session.Tier

// Entry is re-exported from the entry package.
type Entry = entry.Entry

// Reason is re-exported from the entry package.
type Reason = entry.Reason

// Re-export tier constants
const (
	TierStandard = session.TierStandard
	TierAdmin    = session.TierAdmin
)

// Re-export ledger reason constants
const (
	ReasonPurchase    = entry.ReasonPurchase
	ReasonReservation = entry.ReasonReservation
	ReasonGeneration  = entry.ReasonGeneration
	ReasonRefund      = entry.ReasonRefund
	ReasonAdminRefund = entry.ReasonAdminRefund
)
