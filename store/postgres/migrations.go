package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migration is one versioned schema step, recorded in credits_migrations.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "create_credits_sessions",
		SQL: `
CREATE TABLE IF NOT EXISTS credits_sessions (
    id                    TEXT PRIMARY KEY,
    tier                  TEXT NOT NULL DEFAULT 'standard',
    credits               BIGINT NOT NULL DEFAULT 0,
    daily_spend_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
    daily_spend_limit_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_day_reset        TIMESTAMPTZ,
    last_seen_at          TIMESTAMPTZ,
    expires_at            TIMESTAMPTZ,
    created_at            TIMESTAMPTZ,
    updated_at            TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_credits_sessions_expires ON credits_sessions (expires_at);
`,
	},
	{
		Version: 2,
		Name:    "create_credits_ledger",
		SQL: `
CREATE TABLE IF NOT EXISTS credits_ledger (
    id            TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    delta         BIGINT NOT NULL DEFAULT 0,
    reason        TEXT NOT NULL DEFAULT '',
    generation_id TEXT NOT NULL DEFAULT '',
    model_id      TEXT NOT NULL DEFAULT '',
    cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_credits_ledger_session ON credits_ledger (session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_credits_ledger_generation ON credits_ledger (session_id, generation_id) WHERE generation_id != '';
`,
	},
	{
		Version: 3,
		Name:    "create_credits_rate_limits",
		SQL: `
CREATE TABLE IF NOT EXISTS credits_rate_limits (
    identifier   TEXT NOT NULL,
    endpoint     TEXT NOT NULL,
    count        INTEGER NOT NULL DEFAULT 0,
    window_start TIMESTAMPTZ,
    PRIMARY KEY (identifier, endpoint)
);
`,
	},
	{
		Version: 4,
		Name:    "create_credits_login_attempts",
		SQL: `
CREATE TABLE IF NOT EXISTS credits_login_attempts (
    ip_hash       TEXT PRIMARY KEY,
    attempt_count INTEGER NOT NULL DEFAULT 0,
    last_attempt  TIMESTAMPTZ,
    locked_until  TIMESTAMPTZ,
    lockout_count INTEGER NOT NULL DEFAULT 0
);
`,
	},
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credits_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return fmt.Errorf("credits/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.pool.QueryRow(ctx,
			`SELECT COUNT(1) FROM credits_migrations WHERE version = $1`, m.Version,
		).Scan(&count); err != nil {
			return fmt.Errorf("credits/postgres: check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		err := s.withTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return fmt.Errorf("credits/postgres: migration %d (%s): %w", m.Version, m.Name, err)
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO credits_migrations (version, name) VALUES ($1, $2)`,
				m.Version, m.Name,
			)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
