// Package observability provides a metrics extension for Credits that
// records lifecycle event counts through an injected MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/credits/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnSessionCreated      = (*MetricsExtension)(nil)
	_ plugin.OnCreditsAdded        = (*MetricsExtension)(nil)
	_ plugin.OnCreditsReserved     = (*MetricsExtension)(nil)
	_ plugin.OnReservationSettled  = (*MetricsExtension)(nil)
	_ plugin.OnReservationReleased = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits = (*MetricsExtension)(nil)
	_ plugin.OnDailySpendExceeded  = (*MetricsExtension)(nil)
	_ plugin.OnRateLimitExceeded   = (*MetricsExtension)(nil)
	_ plugin.OnLockoutTriggered    = (*MetricsExtension)(nil)
	_ plugin.OnLockoutCleared      = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Credits plugin to automatically track accounting metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Session metrics
	SessionCreated Counter

	// Ledger metrics
	CreditsAdded        Counter
	CreditsReserved     Counter
	ReservationSettled  Counter
	ReservationReleased Counter
	InsufficientCredits Counter
	DailySpendExceeded  Counter
	ReservedAmount      Histogram
	ReleasedAmount      Histogram

	// Abuse control metrics
	RateLimitExceeded Counter
	LockoutTriggered  Counter
	LockoutCleared    Counter
	LockoutDuration   Histogram

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Session metrics
		SessionCreated: factory.Counter("credits.session.created"),

		// Ledger metrics
		CreditsAdded:        factory.Counter("credits.ledger.added"),
		CreditsReserved:     factory.Counter("credits.ledger.reserved"),
		ReservationSettled:  factory.Counter("credits.ledger.settled"),
		ReservationReleased: factory.Counter("credits.ledger.released"),
		InsufficientCredits: factory.Counter("credits.ledger.insufficient"),
		DailySpendExceeded:  factory.Counter("credits.ledger.daily_spend_exceeded"),
		ReservedAmount:      factory.Histogram("credits.ledger.reserved_amount"),
		ReleasedAmount:      factory.Histogram("credits.ledger.released_amount"),

		// Abuse control metrics
		RateLimitExceeded: factory.Counter("credits.rate_limit.exceeded"),
		LockoutTriggered:  factory.Counter("credits.lockout.triggered"),
		LockoutCleared:    factory.Counter("credits.lockout.cleared"),
		LockoutDuration:   factory.Histogram("credits.lockout.duration_seconds"),

		// Error metrics
		StoreErrors:  factory.Counter("credits.store.errors"),
		PluginErrors: factory.Counter("credits.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionCreated implements plugin.OnSessionCreated.
func (m *MetricsExtension) OnSessionCreated(_ context.Context, _ interface{}) error {
	m.SessionCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsAdded implements plugin.OnCreditsAdded.
func (m *MetricsExtension) OnCreditsAdded(_ context.Context, _ string, _ int64, _ string, _ int64) error {
	m.CreditsAdded.Inc()
	return nil
}

// OnCreditsReserved implements plugin.OnCreditsReserved.
func (m *MetricsExtension) OnCreditsReserved(_ context.Context, _, _ string, amount, _ int64) error {
	m.CreditsReserved.Inc()
	m.ReservedAmount.Observe(float64(amount))
	return nil
}

// OnReservationSettled implements plugin.OnReservationSettled.
func (m *MetricsExtension) OnReservationSettled(_ context.Context, _, _ string, _ int64, _ bool) error {
	m.ReservationSettled.Inc()
	return nil
}

// OnReservationReleased implements plugin.OnReservationReleased.
func (m *MetricsExtension) OnReservationReleased(_ context.Context, _, _ string, released, _ int64) error {
	m.ReservationReleased.Inc()
	m.ReleasedAmount.Observe(float64(released))
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _ string, _, _ int64) error {
	m.InsufficientCredits.Inc()
	return nil
}

// OnDailySpendExceeded implements plugin.OnDailySpendExceeded.
func (m *MetricsExtension) OnDailySpendExceeded(_ context.Context, _ string, _, _ float64) error {
	m.DailySpendExceeded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Abuse control hooks
// ──────────────────────────────────────────────────

// OnRateLimitExceeded implements plugin.OnRateLimitExceeded.
func (m *MetricsExtension) OnRateLimitExceeded(_ context.Context, _, _ string, _ int) error {
	m.RateLimitExceeded.Inc()
	return nil
}

// OnLockoutTriggered implements plugin.OnLockoutTriggered.
func (m *MetricsExtension) OnLockoutTriggered(_ context.Context, _ string, _ int, lockedUntil time.Time) error {
	m.LockoutTriggered.Inc()
	if remaining := time.Until(lockedUntil); remaining > 0 {
		m.LockoutDuration.Observe(remaining.Seconds())
	}
	return nil
}

// OnLockoutCleared implements plugin.OnLockoutCleared.
func (m *MetricsExtension) OnLockoutCleared(_ context.Context, _ string) error {
	m.LockoutCleared.Inc()
	return nil
}
