// Package store defines the unified storage interface for all Credits
// entities.
//
// Every balance-affecting mutation flows through UpdateLedger, which runs
// its callback inside one serializable transaction: the session row and
// the ledger entries for the (session, generation) pair are read, the
// callback decides, and the resulting mutation is applied atomically. The
// ledger itself is the concurrency primitive; no backend introduces a
// separate lock table. Rate limit and lockout records follow the same
// transactional read-then-write discipline through their own Update
// methods.
package store

import (
	"context"
	"time"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
)

// LedgerMutation is the write set a LedgerFunc asks the store to apply.
// Session (if non-nil) replaces the session row; Append entries are
// inserted. Both happen in the transaction that read the inputs.
type LedgerMutation struct {
	Session *session.Session
	Append  []*entry.Entry
}

// LedgerFunc decides a ledger transaction. It receives a private copy of
// the session and of the ledger entries recorded for the generation under
// update, and returns the mutation to apply. A nil mutation commits
// nothing (idempotent short-circuit); an error aborts the transaction.
type LedgerFunc func(sess *session.Session, entries []*entry.Entry) (*LedgerMutation, error)

// RateLimitFunc decides a rate limit transaction. rec is nil when no
// record exists; a nil return writes nothing.
type RateLimitFunc func(rec *ratelimit.Record) (*ratelimit.Record, error)

// LockoutFunc decides a lockout transaction. rec is nil when no record
// exists; a nil return writes nothing.
type LockoutFunc func(rec *lockout.Record) (*lockout.Record, error)

// Store is the unified storage interface for all Credits entities.
// Instead of embedding the per-domain sub-interfaces, all methods are
// declared explicitly to avoid naming conflicts.
type Store interface {
	// Session methods
	CreateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, sid id.SessionID) (*session.Session, error)
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Ledger methods
	ListEntries(ctx context.Context, sid id.SessionID, opts entry.ListOpts) ([]*entry.Entry, error)
	UpdateLedger(ctx context.Context, sid id.SessionID, generationID string, fn LedgerFunc) error

	// Rate limit methods
	GetRateLimit(ctx context.Context, identifier, endpoint string) (*ratelimit.Record, error)
	UpdateRateLimit(ctx context.Context, identifier, endpoint string, fn RateLimitFunc) error

	// Lockout methods
	GetLoginAttempts(ctx context.Context, ipHash string) (*lockout.Record, error)
	UpdateLoginAttempts(ctx context.Context, ipHash string, fn LockoutFunc) error
	DeleteLoginAttempts(ctx context.Context, ipHash string) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
