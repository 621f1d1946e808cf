// Package lockout implements the exponential-backoff login lockout state
// machine keyed by caller identity (IP hash).
//
// The attempt counter resets when the attempt window elapses or an active
// lockout expires. LockoutCount is monotonic for the life of the record
// and is the sole input to the backoff duration; only a successful login
// deletes the record and starts the sequence over.
package lockout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Policy is the static lockout configuration.
type Policy struct {
	Threshold   int           // failures before a lockout triggers
	Window      time.Duration // attempt window
	BaseLockout time.Duration // first lockout duration
	MaxLockout  time.Duration // backoff cap
}

// DefaultPolicy locks after 5 failures in 15 minutes, for 1h doubling up
// to 24h.
var DefaultPolicy = Policy{
	Threshold:   5,
	Window:      15 * time.Minute,
	BaseLockout: time.Hour,
	MaxLockout:  24 * time.Hour,
}

// Record is the persisted failure state for one IP hash. A zero
// LockedUntil means no lockout deadline was written.
type Record struct {
	IPHash       string    `json:"ip_hash"`
	AttemptCount int       `json:"attempt_count"`
	LastAttempt  time.Time `json:"last_attempt"`
	LockedUntil  time.Time `json:"locked_until,omitzero"`
	LockoutCount int       `json:"lockout_count"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	dup := *r
	return &dup
}

// Backoff computes the lockout duration after lockoutCount prior lockouts:
// min(base * 2^lockoutCount, max).
func Backoff(p Policy, lockoutCount int) time.Duration {
	d := p.BaseLockout
	for i := 0; i < lockoutCount; i++ {
		d *= 2
		if d >= p.MaxLockout {
			return p.MaxLockout
		}
	}
	if d > p.MaxLockout {
		return p.MaxLockout
	}
	return d
}

// Status reports whether a login attempt may proceed.
type Status struct {
	Allowed           bool      `json:"allowed"`
	LockedUntil       time.Time `json:"locked_until,omitzero"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	LockoutCount      int       `json:"lockout_count"`
}

// FailureResult reports the state after recording one failed attempt.
type FailureResult struct {
	Locked            bool      `json:"locked"`
	LockedUntil       time.Time `json:"locked_until,omitzero"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	LockoutCount      int       `json:"lockout_count"`
}

// expired reports whether the record's counting run is over: an active
// lockout has lapsed, or the attempt window elapsed without one.
func (r *Record) expired(p Policy, now time.Time) bool {
	if !r.LockedUntil.IsZero() {
		return !now.Before(r.LockedUntil)
	}
	return now.Sub(r.LastAttempt) >= p.Window
}

// Check evaluates whether a login attempt is allowed. Pure and read-only.
//
// The second denial branch self-heals a record whose AttemptCount crossed
// the threshold without LockedUntil ever being written (a missed-write
// edge case observed in production data): the deadline is reconstructed
// from LastAttempt using the same backoff formula.
func Check(rec *Record, p Policy, now time.Time) Status {
	if rec == nil {
		return Status{Allowed: true, AttemptsRemaining: p.Threshold}
	}

	if !rec.LockedUntil.IsZero() && now.Before(rec.LockedUntil) {
		return Status{
			LockedUntil:  rec.LockedUntil,
			LockoutCount: rec.LockoutCount,
		}
	}

	if rec.LockedUntil.IsZero() && rec.AttemptCount >= p.Threshold {
		deadline := rec.LastAttempt.Add(Backoff(p, rec.LockoutCount))
		if now.Before(deadline) {
			return Status{
				LockedUntil:  deadline,
				LockoutCount: rec.LockoutCount,
			}
		}
	}

	if rec.expired(p, now) {
		return Status{
			Allowed:           true,
			AttemptsRemaining: p.Threshold,
			LockoutCount:      rec.LockoutCount,
		}
	}

	return Status{
		Allowed:           true,
		AttemptsRemaining: max(0, p.Threshold-rec.AttemptCount),
		LockoutCount:      rec.LockoutCount,
	}
}

// RecordFailure folds one failed attempt into the record and returns the
// record to persist. LockoutCount survives window resets; it only
// increments when a lockout is newly triggered.
func RecordFailure(rec *Record, ipHash string, p Policy, now time.Time) (FailureResult, *Record) {
	var upd *Record
	switch {
	case rec == nil:
		upd = &Record{IPHash: ipHash, AttemptCount: 1}
	case rec.expired(p, now):
		upd = rec.Clone()
		upd.AttemptCount = 1
		upd.LockedUntil = time.Time{}
	default:
		upd = rec.Clone()
		upd.AttemptCount++
	}
	upd.LastAttempt = now

	if upd.LockedUntil.IsZero() && upd.AttemptCount >= p.Threshold {
		upd.LockedUntil = now.Add(Backoff(p, upd.LockoutCount))
		upd.LockoutCount++
		return FailureResult{
			Locked:       true,
			LockedUntil:  upd.LockedUntil,
			LockoutCount: upd.LockoutCount,
		}, upd
	}

	return FailureResult{
		Locked:            !upd.LockedUntil.IsZero(),
		LockedUntil:       upd.LockedUntil,
		AttemptsRemaining: max(0, p.Threshold-upd.AttemptCount),
		LockoutCount:      upd.LockoutCount,
	}, upd
}

// HashIP derives the storage key for an IP address. Raw addresses are
// never persisted.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// Store is the narrow persistence interface for lockout records.
type Store interface {
	Get(ctx context.Context, ipHash string) (*Record, error)
	Update(ctx context.Context, ipHash string, fn func(rec *Record) (*Record, error)) error
	Delete(ctx context.Context, ipHash string) error
}
