// Package postgres implements store.Store on PostgreSQL via pgx. Ledger
// transactions lock the session row with SELECT ... FOR UPDATE, so two
// concurrent updates for the same session serialize on the row lock and
// each callback sees the entries the previous commit left behind.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at databaseURL and returns a Store around
// the pool.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("credits/postgres: connect: %w", err)
	}
	return New(pool), nil
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: %w", credits.ErrTransactionFailed, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx) //nolint:errcheck // rollback error is secondary to fn's error
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", credits.ErrTransactionFailed, err)
	}
	return nil
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO credits_sessions
    (id, tier, credits, daily_spend_usd, daily_spend_limit_usd,
     last_day_reset, last_seen_at, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID.String(), string(sess.Tier), sess.Credits,
		sess.DailySpendUSD, sess.DailySpendLimitUSD,
		pgTime(sess.LastDayReset), pgTime(sess.LastSeenAt), pgTime(sess.ExpiresAt),
		pgTime(sess.CreatedAt), pgTime(sess.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return credits.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, sid id.SessionID) (*session.Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
SELECT id, tier, credits, daily_spend_usd, daily_spend_limit_usd,
       last_day_reset, last_seen_at, expires_at, created_at, updated_at
FROM credits_sessions WHERE id = $1`, sid.String()))
}

func (s *Store) PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM credits_sessions
WHERE expires_at IS NOT NULL AND expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ==================== Ledger Store ====================

func (s *Store) ListEntries(ctx context.Context, sid id.SessionID, opts entry.ListOpts) ([]*entry.Entry, error) {
	query := `
SELECT id, session_id, delta, reason, generation_id, model_id, cost_usd, created_at
FROM credits_ledger WHERE session_id = $1`
	args := []any{sid.String()}

	if opts.GenerationID != "" {
		args = append(args, opts.GenerationID)
		query += fmt.Sprintf(` AND generation_id = $%d`, len(args))
	}
	if opts.Reason != "" {
		args = append(args, string(opts.Reason))
		query += fmt.Sprintf(` AND reason = $%d`, len(args))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *Store) UpdateLedger(ctx context.Context, sid id.SessionID, generationID string, fn creditstore.LedgerFunc) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		sess, err := scanSession(tx.QueryRow(ctx, `
SELECT id, tier, credits, daily_spend_usd, daily_spend_limit_usd,
       last_day_reset, last_seen_at, expires_at, created_at, updated_at
FROM credits_sessions WHERE id = $1
FOR UPDATE`, sid.String()))
		if err != nil {
			return err
		}

		var entries []*entry.Entry
		if generationID != "" {
			rows, err := tx.Query(ctx, `
SELECT id, session_id, delta, reason, generation_id, model_id, cost_usd, created_at
FROM credits_ledger
WHERE session_id = $1 AND generation_id = $2
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
			u := mut.Session
			if _, err := tx.Exec(ctx, `
UPDATE credits_sessions
SET tier = $2, credits = $3, daily_spend_usd = $4, daily_spend_limit_usd = $5,
    last_day_reset = $6, last_seen_at = $7, expires_at = $8, updated_at = $9
WHERE id = $1`,
				u.ID.String(), string(u.Tier), u.Credits,
				u.DailySpendUSD, u.DailySpendLimitUSD,
				pgTime(u.LastDayReset), pgTime(u.LastSeenAt), pgTime(u.ExpiresAt),
				pgTime(u.UpdatedAt),
			); err != nil {
				return err
			}
		}
		for _, e := range mut.Append {
			if _, err := tx.Exec(ctx, `
INSERT INTO credits_ledger
    (id, session_id, delta, reason, generation_id, model_id, cost_usd, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				e.ID.String(), e.SessionID.String(), e.Delta, string(e.Reason),
				e.GenerationID, e.ModelID, e.CostUSD, pgTime(e.CreatedAt),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ==================== Rate limit Store ====================

func (s *Store) GetRateLimit(ctx context.Context, identifier, endpoint string) (*ratelimit.Record, error) {
	rec, err := scanRateLimit(s.pool.QueryRow(ctx, `
SELECT identifier, endpoint, count, window_start
FROM credits_rate_limits WHERE identifier = $1 AND endpoint = $2`,
		identifier, endpoint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Store) UpdateRateLimit(ctx context.Context, identifier, endpoint string, fn creditstore.RateLimitFunc) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanRateLimit(tx.QueryRow(ctx, `
SELECT identifier, endpoint, count, window_start
FROM credits_rate_limits WHERE identifier = $1 AND endpoint = $2
FOR UPDATE`, identifier, endpoint))
		if errors.Is(err, pgx.ErrNoRows) {
			current = nil
		} else if err != nil {
			return err
		}

		upd, err := fn(current)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}

		_, err = tx.Exec(ctx, `
INSERT INTO credits_rate_limits (identifier, endpoint, count, window_start)
VALUES ($1, $2, $3, $4)
ON CONFLICT (identifier, endpoint) DO UPDATE SET
    count = excluded.count, window_start = excluded.window_start`,
			upd.Identifier, upd.Endpoint, upd.Count, pgTime(upd.WindowStart),
		)
		return err
	})
}

// ==================== Lockout Store ====================

func (s *Store) GetLoginAttempts(ctx context.Context, ipHash string) (*lockout.Record, error) {
	rec, err := scanLockout(s.pool.QueryRow(ctx, `
SELECT ip_hash, attempt_count, last_attempt, locked_until, lockout_count
FROM credits_login_attempts WHERE ip_hash = $1`, ipHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *Store) UpdateLoginAttempts(ctx context.Context, ipHash string, fn creditstore.LockoutFunc) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanLockout(tx.QueryRow(ctx, `
SELECT ip_hash, attempt_count, last_attempt, locked_until, lockout_count
FROM credits_login_attempts WHERE ip_hash = $1
FOR UPDATE`, ipHash))
		if errors.Is(err, pgx.ErrNoRows) {
			current = nil
		} else if err != nil {
			return err
		}

		upd, err := fn(current)
		if err != nil {
			return err
		}
		if upd == nil {
			return nil
		}

		_, err = tx.Exec(ctx, `
INSERT INTO credits_login_attempts (ip_hash, attempt_count, last_attempt, locked_until, lockout_count)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (ip_hash) DO UPDATE SET
    attempt_count = excluded.attempt_count,
    last_attempt  = excluded.last_attempt,
    locked_until  = excluded.locked_until,
    lockout_count = excluded.lockout_count`,
			upd.IPHash, upd.AttemptCount, pgTime(upd.LastAttempt),
			pgTime(upd.LockedUntil), upd.LockoutCount,
		)
		return err
	})
}

func (s *Store) DeleteLoginAttempts(ctx context.Context, ipHash string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM credits_login_attempts WHERE ip_hash = $1`, ipHash)
	return err
}

// ==================== Row scanning ====================

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		idStr, tier        string
		creds              int64
		spendUSD, limitUSD float64

		lastDayReset, lastSeenAt, expiresAt, createdAt, updatedAt *time.Time
	)
	err := row.Scan(&idStr, &tier, &creds, &spendUSD, &limitUSD,
		&lastDayReset, &lastSeenAt, &expiresAt, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, credits.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	sid, err := id.ParseSessionID(idStr)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		ID:                 sid,
		Tier:               session.Tier(tier),
		Credits:            creds,
		DailySpendUSD:      spendUSD,
		DailySpendLimitUSD: limitUSD,
		LastDayReset:       fromPGTime(lastDayReset),
		LastSeenAt:         fromPGTime(lastSeenAt),
		ExpiresAt:          fromPGTime(expiresAt),
		CreatedAt:          fromPGTime(createdAt),
		UpdatedAt:          fromPGTime(updatedAt),
	}, nil
}

func scanEntries(rows pgx.Rows) ([]*entry.Entry, error) {
	var result []*entry.Entry
	for rows.Next() {
		var (
			idStr, sidStr, reason, generationID, modelID string
			delta                                        int64
			costUSD                                      float64
			createdAt                                    *time.Time
		)
		if err := rows.Scan(&idStr, &sidStr, &delta, &reason,
			&generationID, &modelID, &costUSD, &createdAt); err != nil {
			return nil, err
		}

		eid, err := id.ParseEntryID(idStr)
		if err != nil {
			return nil, err
		}
		sid, err := id.ParseSessionID(sidStr)
		if err != nil {
			return nil, err
		}
		result = append(result, &entry.Entry{
			ID:           eid,
			SessionID:    sid,
			Delta:        delta,
			Reason:       entry.Reason(reason),
			GenerationID: generationID,
			ModelID:      modelID,
			CostUSD:      costUSD,
			CreatedAt:    fromPGTime(createdAt),
		})
	}
	return result, rows.Err()
}

func scanRateLimit(row pgx.Row) (*ratelimit.Record, error) {
	var (
		rec         ratelimit.Record
		windowStart *time.Time
	)
	if err := row.Scan(&rec.Identifier, &rec.Endpoint, &rec.Count, &windowStart); err != nil {
		return nil, err
	}
	rec.WindowStart = fromPGTime(windowStart)
	return &rec, nil
}

func scanLockout(row pgx.Row) (*lockout.Record, error) {
	var (
		rec                      lockout.Record
		lastAttempt, lockedUntil *time.Time
	)
	if err := row.Scan(&rec.IPHash, &rec.AttemptCount, &lastAttempt, &lockedUntil, &rec.LockoutCount); err != nil {
		return nil, err
	}
	rec.LastAttempt = fromPGTime(lastAttempt)
	rec.LockedUntil = fromPGTime(lockedUntil)
	return &rec, nil
}

// isUniqueViolation reports whether err is a unique constraint violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
