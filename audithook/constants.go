package audithook

// Action constants for audit events.
const (
	// Session actions
	ActionSessionCreated = "session.created"

	// Ledger actions
	ActionCreditsAdded        = "credits.added"
	ActionCreditsReserved     = "credits.reserved"
	ActionReservationSettled  = "reservation.settled"
	ActionReservationReleased = "reservation.released"
	ActionInsufficientCredits = "credits.insufficient"
	ActionDailySpendExceeded  = "daily_spend.exceeded"

	// Abuse control actions
	ActionRateLimitExceeded = "rate_limit.exceeded"
	ActionLockoutTriggered  = "lockout.triggered"
	ActionLockoutCleared    = "lockout.cleared"
)

// Resource constants for audit events.
const (
	ResourceSession     = "session"
	ResourceLedger      = "ledger"
	ResourceRateLimit   = "rate_limit"
	ResourceLoginWindow = "login_window"
)

// Category constants for audit events.
const (
	CategoryBilling = "billing"
	CategoryAccess  = "access"
	CategoryAbuse   = "abuse"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
