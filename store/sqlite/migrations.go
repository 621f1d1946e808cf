package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migration is one versioned schema step. Steps run in order inside a
// transaction and are recorded in credits_migrations.
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
    credits               INTEGER NOT NULL DEFAULT 0,
    daily_spend_usd       REAL NOT NULL DEFAULT 0,
    daily_spend_limit_usd REAL NOT NULL DEFAULT 0,
    last_day_reset        TEXT,
    last_seen_at          TEXT,
    expires_at            TEXT,
    created_at            TEXT,
    updated_at            TEXT
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
    delta         INTEGER NOT NULL DEFAULT 0,
    reason        TEXT NOT NULL DEFAULT '',
    generation_id TEXT NOT NULL DEFAULT '',
    model_id      TEXT NOT NULL DEFAULT '',
    cost_usd      REAL NOT NULL DEFAULT 0,
    created_at    TEXT
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
    window_start TEXT,
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
    last_attempt  TEXT,
    locked_until  TEXT,
    lockout_count INTEGER NOT NULL DEFAULT 0
);
`,
	},
}

// Migrate applies all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS credits_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("credits/sqlite: create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := s.migrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("credits/sqlite: migration %d (%s): %w", m.Version, m.Name, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO credits_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
				m.Version, m.Name, time.Now().UTC().Format(time.RFC3339Nano),
			)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM credits_migrations WHERE version = ?`, version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("credits/sqlite: check migration %d: %w", version, err)
	}
	return count > 0, nil
}
