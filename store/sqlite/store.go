// Package sqlite implements store.Store on SQLite via the CGO-free
// modernc.org/sqlite driver. Ledger transactions rely on BEGIN IMMEDIATE
// (the _txlock DSN option) so the write lock is taken up front, which
// serializes concurrent ledger updates for the same database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xraph/credits"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
	creditstore "github.com/xraph/credits/store"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with the pragmas the store
// depends on and returns a Store around it.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credits/sqlite: open %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent ledger updates.
	db.SetMaxOpenConns(1)
	return New(db), nil
}

// New wraps an existing database handle. The caller is responsible for
// DSN options; Open is the recommended constructor.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", credits.ErrTransactionFailed, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback() //nolint:errcheck // rollback error is secondary to fn's error
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", credits.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	r := toSessionRow(sess)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO credits_sessions
    (id, tier, credits, daily_spend_usd, daily_spend_limit_usd,
     last_day_reset, last_seen_at, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Tier, r.Credits, r.DailySpendUSD, r.DailySpendLimitUSD,
		r.LastDayReset, r.LastSeenAt, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return credits.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, sid id.SessionID) (*session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, tier, credits, daily_spend_usd, daily_spend_limit_usd,
       last_day_reset, last_seen_at, expires_at, created_at, updated_at
FROM credits_sessions WHERE id = ?`, sid.String())
	return scanSession(row)
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM credits_sessions
WHERE expires_at IS NOT NULL AND expires_at < ?`,
		before.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ==================== Ledger Store ====================

func (s *Store) ListEntries(ctx context.Context, sid id.SessionID, opts entry.ListOpts) ([]*entry.Entry, error) {
	query := `
SELECT id, session_id, delta, reason, generation_id, model_id, cost_usd, created_at
FROM credits_ledger WHERE session_id = ?`
	args := []any{sid.String()}

	if opts.GenerationID != "" {
		query += ` AND generation_id = ?`
		args = append(args, opts.GenerationID)
	}
	if opts.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, string(opts.Reason))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) UpdateLedger(ctx context.Context, sid id.SessionID, generationID string, fn creditstore.LedgerFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		sess, err := scanSession(tx.QueryRowContext(ctx, `
SELECT id, tier, credits, daily_spend_usd, daily_spend_limit_usd,
       last_day_reset, last_seen_at, expires_at, created_at, updated_at
FROM credits_sessions WHERE id = ?`, sid.String()))
		if err != nil {
			return err
		}

		var entries []*entry.Entry
		if generationID != "" {
			rows, err := tx.QueryContext(ctx, `
SELECT id, session_id, delta, reason, generation_id, model_id, cost_usd, created_at
FROM credits_ledger
WHERE session_id = ? AND generation_id = ?
ORDER BY created_at ASC, id ASC`, sid.String(), generationID)
			if err != nil {
				return err
			}
			entries, err = scanEntries(rows)
			rows.Close()
			if err != nil {
				return err
			}
		}

		mut, err := fn(sess, entries)
		if err != nil {
			return err
		}
		if mut == nil {
			return nil
		}

		if mut.Session != nil {
			r := toSessionRow(mut.Session)
			if _, err := tx.ExecContext(ctx, `
UPDATE credits_sessions
SET tier = ?, credits = ?, daily_spend_usd = ?, daily_spend_limit_usd = ?,
    last_day_reset = ?, last_seen_at = ?, expires_at = ?, updated_at = ?
WHERE id = ?`,
				r.Tier, r.Credits, r.DailySpendUSD, r.DailySpendLimitUSD,
				r.LastDayReset, r.LastSeenAt, r.ExpiresAt, r.UpdatedAt, r.ID,
			); err != nil {
				return err
			}
		}
		for _, e := range mut.Append {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO credits_ledger
    (id, session_id, delta, reason, generation_id, model_id, cost_usd, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.ID.String(), e.SessionID.String(), e.Delta, string(e.Reason),
				e.GenerationID, e.ModelID, e.CostUSD, encodeTime(e.CreatedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ==================== Rate limit Store ====================

func (s *Store) GetRateLimit(ctx context.Context, identifier, endpoint string) (*ratelimit.Record, error) {
	var r rateLimitRow
	err := s.db.QueryRowContext(ctx, `
SELECT identifier, endpoint, count, window_start
FROM credits_rate_limits WHERE identifier = ? AND endpoint = ?`,
		identifier, endpoint,
	).Scan(&r.Identifier, &r.Endpoint, &r.Count, &r.WindowStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRateLimitRow(&r)
}

func (s *Store) UpdateRateLimit(ctx context.Context, identifier, endpoint string, fn creditstore.RateLimitFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current *ratelimit.Record
		var r rateLimitRow
		err := tx.QueryRowContext(ctx, `
SELECT identifier, endpoint, count, window_start
FROM credits_rate_limits WHERE identifier = ? AND endpoint = ?`,
			identifier, endpoint,
		).Scan(&r.Identifier, &r.Endpoint, &r.Count, &r.WindowStart)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// first sighting
		case err != nil:
			return err
		default:
			if current, err = fromRateLimitRow(&r); err != nil {
				return err
			}
		}

		upd, err := fn(current)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO credits_rate_limits (identifier, endpoint, count, window_start)
VALUES (?, ?, ?, ?)
ON CONFLICT (identifier, endpoint) DO UPDATE SET
    count = excluded.count, window_start = excluded.window_start`,
			upd.Identifier, upd.Endpoint, upd.Count, encodeTime(upd.WindowStart),
		)
		return err
	})
}

// ==================== Lockout Store ====================

func (s *Store) GetLoginAttempts(ctx context.Context, ipHash string) (*lockout.Record, error) {
	var r lockoutRow
	err := s.db.QueryRowContext(ctx, `
SELECT ip_hash, attempt_count, last_attempt, locked_until, lockout_count
FROM credits_login_attempts WHERE ip_hash = ?`, ipHash,
	).Scan(&r.IPHash, &r.AttemptCount, &r.LastAttempt, &r.LockedUntil, &r.LockoutCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromLockoutRow(&r)
}

func (s *Store) UpdateLoginAttempts(ctx context.Context, ipHash string, fn creditstore.LockoutFunc) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current *lockout.Record
		var r lockoutRow
		err := tx.QueryRowContext(ctx, `
SELECT ip_hash, attempt_count, last_attempt, locked_until, lockout_count
FROM credits_login_attempts WHERE ip_hash = ?`, ipHash,
		).Scan(&r.IPHash, &r.AttemptCount, &r.LastAttempt, &r.LockedUntil, &r.LockoutCount)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// first failure for this hash
		case err != nil:
			return err
		default:
			if current, err = fromLockoutRow(&r); err != nil {
				return err
			}
		}

		upd, err := fn(current)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}

		_, err = tx.ExecContext(ctx, `
INSERT INTO credits_login_attempts (ip_hash, attempt_count, last_attempt, locked_until, lockout_count)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (ip_hash) DO UPDATE SET
    attempt_count = excluded.attempt_count,
    last_attempt  = excluded.last_attempt,
    locked_until  = excluded.locked_until,
    lockout_count = excluded.lockout_count`,
			upd.IPHash, upd.AttemptCount, encodeTime(upd.LastAttempt),
			encodeTime(upd.LockedUntil), upd.LockoutCount,
		)
		return err
	})
}

func (s *Store) DeleteLoginAttempts(ctx context.Context, ipHash string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credits_login_attempts WHERE ip_hash = ?`, ipHash)
	return err
}

// ==================== Row scanning ====================

func scanSession(row *sql.Row) (*session.Session, error) {
	var r sessionRow
	err := row.Scan(
		&r.ID, &r.Tier, &r.Credits, &r.DailySpendUSD, &r.DailySpendLimitUSD,
		&r.LastDayReset, &r.LastSeenAt, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credits.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromSessionRow(&r)
}

func scanEntries(rows *sql.Rows) ([]*entry.Entry, error) {
	var result []*entry.Entry
	for rows.Next() {
		var r entryRow
		if err := rows.Scan(
			&r.ID, &r.SessionID, &r.Delta, &r.Reason,
			&r.GenerationID, &r.ModelID, &r.CostUSD, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		e, err := fromEntryRow(&r)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. Matched on the message to avoid importing driver internals.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
