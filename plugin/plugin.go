// Package plugin provides an extensible plugin system for Credits.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, c interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionCreated is called when a new session is created.
type OnSessionCreated interface {
	Plugin
	OnSessionCreated(ctx context.Context, sess interface{}) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsAdded is called when credits are added to a session.
type OnCreditsAdded interface {
	Plugin
	OnCreditsAdded(ctx context.Context, sessionID string, amount int64, reason string, newBalance int64) error
}

// OnCreditsReserved is called when a reservation holds credits.
type OnCreditsReserved interface {
	Plugin
	OnCreditsReserved(ctx context.Context, sessionID, generationID string, amount, newBalance int64) error
}

// OnReservationSettled is called when a reservation becomes a charge.
type OnReservationSettled interface {
	Plugin
	OnReservationSettled(ctx context.Context, sessionID, generationID string, amount int64, converted bool) error
}

// OnReservationReleased is called when an unconsumed reservation is
// refunded.
type OnReservationReleased interface {
	Plugin
	OnReservationReleased(ctx context.Context, sessionID, generationID string, released, newBalance int64) error
}

// OnInsufficientCredits is called when a reservation or debit is denied
// for lack of balance.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, sessionID string, required, available int64) error
}

// OnDailySpendExceeded is called when the daily spend guard denies a
// reservation.
type OnDailySpendExceeded interface {
	Plugin
	OnDailySpendExceeded(ctx context.Context, sessionID string, spent, limit float64) error
}

// ──────────────────────────────────────────────────
// Abuse control hooks
// ──────────────────────────────────────────────────

// OnRateLimitExceeded is called when a rate limit check is denied.
type OnRateLimitExceeded interface {
	Plugin
	OnRateLimitExceeded(ctx context.Context, identifier, endpoint string, retryAfter int) error
}

// OnLockoutTriggered is called when failed logins trip a lockout.
type OnLockoutTriggered interface {
	Plugin
	OnLockoutTriggered(ctx context.Context, ipHash string, lockoutCount int, lockedUntil time.Time) error
}

// OnLockoutCleared is called when a successful login clears the lockout
// record.
type OnLockoutCleared interface {
	Plugin
	OnLockoutCleared(ctx context.Context, ipHash string) error
}
