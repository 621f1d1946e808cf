package credits

// Results for the ledger lifecycle operations. The Already* flags signal
// idempotent replays: the work was done by an earlier call and the result
// reflects existing state. Replays are successes, never errors.

// ReserveResult reports the outcome of Reserve.
type ReserveResult struct {
	NewBalance      int64 `json:"new_balance"`
	AlreadyReserved bool  `json:"already_reserved,omitempty"`
}

// DeductResult reports the outcome of Deduct. Converted means a prior
// reservation was settled in place: its hold became the charge and the
// balance did not move again.
type DeductResult struct {
	NewBalance     int64 `json:"new_balance"`
	Converted      bool  `json:"converted,omitempty"`
	AlreadyCharged bool  `json:"already_charged,omitempty"`
}

// ReleaseResult reports the outcome of Release.
type ReleaseResult struct {
	NewBalance      int64 `json:"new_balance"`
	Released        int64 `json:"released,omitempty"`
	AlreadyReleased bool  `json:"already_released,omitempty"`
}

// AddResult reports the outcome of AddCredits.
type AddResult struct {
	NewBalance int64 `json:"new_balance"`
}
