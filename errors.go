package credits

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("credits: not found")
	ErrAlreadyExists = errors.New("credits: already exists")
	ErrInvalidInput  = errors.New("credits: invalid input")

	// Session errors
	ErrSessionNotFound = errors.New("credits: session not found")
	ErrSessionExpired  = errors.New("credits: session expired")

	// Ledger errors
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrDailySpendExceeded  = errors.New("credits: daily spend limit exceeded")
	ErrInvalidAmount       = errors.New("credits: invalid amount")
	ErrInvalidReason       = errors.New("credits: invalid ledger reason")

	// Abuse control errors
	ErrRateLimitExceeded = errors.New("credits: rate limit exceeded")
	ErrLoginLocked       = errors.New("credits: login locked")

	// Store errors
	ErrStoreClosed       = errors.New("credits: store is closed")
	ErrTransactionFailed = errors.New("credits: transaction failed")
	ErrMigrationFailed   = errors.New("credits: migration failed")
)

// InsufficientCreditsError reports a reservation or debit that exceeds the
// available balance. Available already excludes pending reservations.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("credits: insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// DailySpendError reports a reservation that would exceed the session's
// daily USD budget.
type DailySpendError struct {
	Limit     float64
	Spent     float64
	Remaining float64
}

func (e *DailySpendError) Error() string {
	return fmt.Sprintf("credits: daily spend limit exceeded: spent $%.2f of $%.2f", e.Spent, e.Limit)
}

func (e *DailySpendError) Unwrap() error { return ErrDailySpendExceeded }

// RateLimitError reports a denied rate limit check.
type RateLimitError struct {
	RetryAfter int // whole seconds until the window resets
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("credits: rate limit exceeded, retry after %ds", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// LoginLockedError reports a login attempt during an active lockout.
type LoginLockedError struct {
	LockedUntil  time.Time
	LockoutCount int
}

func (e *LoginLockedError) Error() string {
	return fmt.Sprintf("credits: login locked until %s", e.LockedUntil.Format(time.RFC3339))
}

func (e *LoginLockedError) Unwrap() error { return ErrLoginLocked }

// RateLimitErr maps a rate limit decision onto the error taxonomy:
// nil when allowed, a *RateLimitError otherwise. Convenience for hosts
// that surface denials as errors (HTTP 429 and friends).
func RateLimitErr(d *ratelimit.Decision) error {
	if d == nil || d.Allowed {
		return nil
	}
	return &RateLimitError{RetryAfter: d.RetryAfter}
}

// LockoutErr maps a lockout status onto the error taxonomy: nil when
// allowed, a *LoginLockedError otherwise.
func LockoutErr(st *lockout.Status) error {
	if st == nil || st.Allowed {
		return nil
	}
	return &LoginLockedError{LockedUntil: st.LockedUntil, LockoutCount: st.LockoutCount}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// IsDenied returns true for expected, user-facing denials: the caller's
// request was understood but refused. These never indicate a broken store.
func IsDenied(err error) bool {
	return errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrDailySpendExceeded) ||
		errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrLoginLocked)
}
