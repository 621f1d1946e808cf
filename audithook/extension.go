// Package audithook bridges Credits lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/credits/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnSessionCreated      = (*Extension)(nil)
	_ plugin.OnCreditsAdded        = (*Extension)(nil)
	_ plugin.OnCreditsReserved     = (*Extension)(nil)
	_ plugin.OnReservationSettled  = (*Extension)(nil)
	_ plugin.OnReservationReleased = (*Extension)(nil)
	_ plugin.OnInsufficientCredits = (*Extension)(nil)
	_ plugin.OnDailySpendExceeded  = (*Extension)(nil)
	_ plugin.OnRateLimitExceeded   = (*Extension)(nil)
	_ plugin.OnLockoutTriggered    = (*Extension)(nil)
	_ plugin.OnLockoutCleared      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so that the audithook package does not import any audit
// system directly — callers inject the concrete backend at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Credits lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Session hooks
// ──────────────────────────────────────────────────

// OnSessionCreated implements plugin.OnSessionCreated.
func (e *Extension) OnSessionCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionSessionCreated, SeverityInfo, OutcomeSuccess,
		ResourceSession, "", CategoryBilling, nil,
		"event", "session_created",
	)
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsAdded implements plugin.OnCreditsAdded.
func (e *Extension) OnCreditsAdded(ctx context.Context, sessionID string, amount int64, reason string, newBalance int64) error {
	return e.record(ctx, ActionCreditsAdded, SeverityInfo, OutcomeSuccess,
		ResourceLedger, sessionID, CategoryBilling, nil,
		"amount", amount,
		"reason", reason,
		"new_balance", newBalance,
	)
}

// OnCreditsReserved implements plugin.OnCreditsReserved.
func (e *Extension) OnCreditsReserved(ctx context.Context, sessionID, generationID string, amount, newBalance int64) error {
	return e.record(ctx, ActionCreditsReserved, SeverityInfo, OutcomeSuccess,
		ResourceLedger, sessionID, CategoryBilling, nil,
		"generation_id", generationID,
		"amount", amount,
		"new_balance", newBalance,
	)
}

// OnReservationSettled implements plugin.OnReservationSettled.
func (e *Extension) OnReservationSettled(ctx context.Context, sessionID, generationID string, amount int64, converted bool) error {
	return e.record(ctx, ActionReservationSettled, SeverityInfo, OutcomeSuccess,
		ResourceLedger, sessionID, CategoryBilling, nil,
		"generation_id", generationID,
		"amount", amount,
		"converted", converted,
	)
}

// OnReservationReleased implements plugin.OnReservationReleased.
func (e *Extension) OnReservationReleased(ctx context.Context, sessionID, generationID string, released, newBalance int64) error {
	return e.record(ctx, ActionReservationReleased, SeverityInfo, OutcomeSuccess,
		ResourceLedger, sessionID, CategoryBilling, nil,
		"generation_id", generationID,
		"released", released,
		"new_balance", newBalance,
	)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, sessionID string, required, available int64) error {
	return e.record(ctx, ActionInsufficientCredits, SeverityWarning, OutcomeFailure,
		ResourceLedger, sessionID, CategoryBilling, nil,
		"required", required,
		"available", available,
	)
}

// OnDailySpendExceeded implements plugin.OnDailySpendExceeded.
func (e *Extension) OnDailySpendExceeded(ctx context.Context, sessionID string, spent, limit float64) error {
	return e.record(ctx, ActionDailySpendExceeded, SeverityWarning, OutcomeFailure,
		ResourceLedger, sessionID, CategoryBilling, nil,
		"spent_usd", spent,
		"limit_usd", limit,
	)
}

// ──────────────────────────────────────────────────
// Abuse control hooks
// ──────────────────────────────────────────────────

// OnRateLimitExceeded implements plugin.OnRateLimitExceeded.
func (e *Extension) OnRateLimitExceeded(ctx context.Context, identifier, endpoint string, retryAfter int) error {
	return e.record(ctx, ActionRateLimitExceeded, SeverityWarning, OutcomeFailure,
		ResourceRateLimit, identifier, CategoryAbuse, nil,
		"endpoint", endpoint,
		"retry_after_seconds", retryAfter,
	)
}

// OnLockoutTriggered implements plugin.OnLockoutTriggered.
func (e *Extension) OnLockoutTriggered(ctx context.Context, ipHash string, lockoutCount int, lockedUntil time.Time) error {
	return e.record(ctx, ActionLockoutTriggered, SeverityCritical, OutcomeFailure,
		ResourceLoginWindow, ipHash, CategoryAccess, nil,
		"lockout_count", lockoutCount,
		"locked_until", lockedUntil,
	)
}

// OnLockoutCleared implements plugin.OnLockoutCleared.
func (e *Extension) OnLockoutCleared(ctx context.Context, ipHash string) error {
	return e.record(ctx, ActionLockoutCleared, SeverityInfo, OutcomeSuccess,
		ResourceLoginWindow, ipHash, CategoryAccess, nil,
		"event", "lockout_cleared",
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audithook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
