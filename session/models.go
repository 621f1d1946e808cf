// Package session defines the account-level state for one end-user
// pseudo-identity: the authoritative credit balance, tier, and daily
// spend roll-ups.
package session

import (
	"time"

	"github.com/xraph/credits/id"
)

// Tier classifies a session's privilege level.
type Tier string

const (
	TierStandard Tier = "standard"
	TierAdmin    Tier = "admin"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierStandard || t == TierAdmin
}

// Session is one end-user pseudo-identity. Credits is a cached roll-up of
// the session's ledger entries and is only ever updated in the same
// transaction as a ledger append.
type Session struct {
	ID                 id.SessionID `json:"id"`
	Tier               Tier         `json:"tier"`
	Credits            int64        `json:"credits"`
	DailySpendUSD      float64      `json:"daily_spend_usd"`
	DailySpendLimitUSD float64      `json:"daily_spend_limit_usd"`
	LastDayReset       time.Time    `json:"last_day_reset"`
	LastSeenAt         time.Time    `json:"last_seen_at"`
	ExpiresAt          time.Time    `json:"expires_at,omitzero"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// Touch records activity on the session.
func (s *Session) Touch(now time.Time) {
	s.LastSeenAt = now
	s.UpdatedAt = now
}

// Expired reports whether the session has passed its expiry deadline.
// Expiry is a flag, not erasure: expired sessions keep their ledger history.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Clone returns a deep copy. Stores hand copies to mutation callbacks so
// callers never alias persisted state.
func (s *Session) Clone() *Session {
	dup := *s
	return &dup
}

// ResolveTier recomputes the tier after a balance change. Admin is sticky:
// no balance movement ever downgrades it. Unknown tiers normalize to
// standard.
func ResolveTier(current Tier, credits int64) Tier {
	if current == TierAdmin {
		return TierAdmin
	}
	return TierStandard
}
