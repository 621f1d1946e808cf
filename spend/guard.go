// Package spend implements the daily spend guard: a side-effect-free check
// of a session's USD budget for the current UTC day. The caller persists
// the reset and increment the verdict calls for, which keeps the guard
// trivially testable.
package spend

import (
	"time"

	"github.com/xraph/credits/session"
)

// DefaultDailyLimitUSD applies when a session carries no explicit limit.
const DefaultDailyLimitUSD = 5.0

// Verdict is the guard's decision for one prospective charge.
type Verdict struct {
	Allowed      bool    `json:"allowed"`
	CurrentSpend float64 `json:"current_spend"`
	Limit        float64 `json:"limit"`
	Remaining    float64 `json:"remaining"`
	// ResetNeeded tells the caller to zero DailySpendUSD and advance
	// LastDayReset to the current UTC midnight before persisting.
	ResetNeeded bool `json:"reset_needed"`
}

// Check evaluates whether charging costUSD fits the session's daily budget
// at now. Admin sessions always pass. Pure: the session is not mutated.
func Check(sess *session.Session, costUSD float64, now time.Time) Verdict {
	limit := sess.DailySpendLimitUSD
	if limit <= 0 {
		limit = DefaultDailyLimitUSD
	}

	current := sess.DailySpendUSD
	reset := sess.LastDayReset.Before(UTCMidnight(now))
	if reset {
		current = 0
	}

	v := Verdict{
		CurrentSpend: current,
		Limit:        limit,
		Remaining:    max(0, limit-current),
		ResetNeeded:  reset,
	}

	if sess.Tier == session.TierAdmin {
		v.Allowed = true
		return v
	}

	v.Allowed = current+costUSD <= limit
	return v
}

// UTCMidnight truncates t to the start of its UTC day.
func UTCMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
