// Package ratelimit implements a fixed-reset sliding window counter keyed
// by (identifier, endpoint). The counter resets wholesale when the window
// elapses rather than maintaining a rolling log of timestamps.
//
// Decision logic is pure; persistence of the updated record is the
// store's job, under the same transactional read-then-write discipline as
// the ledger.
package ratelimit

import (
	"context"
	"time"
)

// Limit is the static configuration for one endpoint.
type Limit struct {
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// Config maps endpoints to their limits. Endpoints without an explicit
// entry fall back to Default.
type Config struct {
	Default   Limit
	Endpoints map[string]Limit
}

// DefaultConfig mirrors the production endpoint table.
var DefaultConfig = Config{
	Default: Limit{Window: time.Minute, MaxRequests: 20},
	Endpoints: map[string]Limit{
		"chat":  {Window: time.Minute, MaxRequests: 20},
		"image": {Window: time.Minute, MaxRequests: 5},
		"login": {Window: 15 * time.Minute, MaxRequests: 10},
	},
}

// For returns the limit for an endpoint.
func (c Config) For(endpoint string) Limit {
	if lim, ok := c.Endpoints[endpoint]; ok {
		return lim
	}
	return c.Default
}

// Record is the persisted window counter for one (identifier, endpoint)
// pair. It is only meaningful while now < WindowStart + Window; a stale
// record is treated as absent.
type Record struct {
	Identifier  string    `json:"identifier"`
	Endpoint    string    `json:"endpoint"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	dup := *r
	return &dup
}

// stale reports whether the record's window has elapsed.
func (r *Record) stale(lim Limit, now time.Time) bool {
	return !now.Before(r.WindowStart.Add(lim.Window))
}

// Decision reports the outcome of a rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is the whole seconds until the window resets, rounded
	// up. Only set on denial.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Apply evaluates one request against the window and returns the record to
// persist. A nil returned record means nothing changed (denial).
func Apply(rec *Record, identifier, endpoint string, lim Limit, now time.Time) (Decision, *Record) {
	if rec == nil || rec.stale(lim, now) {
		fresh := &Record{
			Identifier:  identifier,
			Endpoint:    endpoint,
			Count:       1,
			WindowStart: now,
		}
		return Decision{
			Allowed:   true,
			Remaining: lim.MaxRequests - 1,
			ResetAt:   now.Add(lim.Window),
		}, fresh
	}

	resetAt := rec.WindowStart.Add(lim.Window)
	if rec.Count >= lim.MaxRequests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: ceilSeconds(resetAt.Sub(now)),
		}, nil
	}

	upd := rec.Clone()
	upd.Count++
	return Decision{
		Allowed:   true,
		Remaining: lim.MaxRequests - upd.Count,
		ResetAt:   resetAt,
	}, upd
}

// Status reports the window state without consuming a request.
func Status(rec *Record, lim Limit, now time.Time) Decision {
	if rec == nil || rec.stale(lim, now) {
		return Decision{
			Allowed:   true,
			Remaining: lim.MaxRequests,
			ResetAt:   now,
		}
	}

	resetAt := rec.WindowStart.Add(lim.Window)
	d := Decision{
		Allowed:   rec.Count < lim.MaxRequests,
		Remaining: max(0, lim.MaxRequests-rec.Count),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = ceilSeconds(resetAt.Sub(now))
	}
	return d
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Store is the narrow persistence interface for rate limit records.
type Store interface {
	Get(ctx context.Context, identifier, endpoint string) (*Record, error)
	Update(ctx context.Context, identifier, endpoint string, fn func(rec *Record) (*Record, error)) error
}
