package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
)

// Times are stored as RFC3339Nano TEXT. Zero times map to NULL.

func encodeTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func decodeTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("credits/sqlite: parse time %q: %w", s.String, err)
	}
	return t.UTC(), nil
}

// ==================== Session rows ====================

type sessionRow struct {
	ID                 string
	Tier               string
	Credits            int64
	DailySpendUSD      float64
	DailySpendLimitUSD float64
	LastDayReset       sql.NullString
	LastSeenAt         sql.NullString
	ExpiresAt          sql.NullString
	CreatedAt          sql.NullString
	UpdatedAt          sql.NullString
}

func toSessionRow(s *session.Session) *sessionRow {
	return &sessionRow{
		ID:                 s.ID.String(),
		Tier:               string(s.Tier),
		Credits:            s.Credits,
		DailySpendUSD:      s.DailySpendUSD,
		DailySpendLimitUSD: s.DailySpendLimitUSD,
		LastDayReset:       encodeTime(s.LastDayReset),
		LastSeenAt:         encodeTime(s.LastSeenAt),
		ExpiresAt:          encodeTime(s.ExpiresAt),
		CreatedAt:          encodeTime(s.CreatedAt),
		UpdatedAt:          encodeTime(s.UpdatedAt),
	}
}

func fromSessionRow(r *sessionRow) (*session.Session, error) {
	sid, err := id.ParseSessionID(r.ID)
	if err != nil {
		return nil, err
	}

	s := &session.Session{
		ID:                 sid,
		Tier:               session.Tier(r.Tier),
		Credits:            r.Credits,
		DailySpendUSD:      r.DailySpendUSD,
		DailySpendLimitUSD: r.DailySpendLimitUSD,
	}
	if s.LastDayReset, err = decodeTime(r.LastDayReset); err != nil {
		return nil, err
	}
	if s.LastSeenAt, err = decodeTime(r.LastSeenAt); err != nil {
		return nil, err
	}
	if s.ExpiresAt, err = decodeTime(r.ExpiresAt); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = decodeTime(r.CreatedAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = decodeTime(r.UpdatedAt); err != nil {
		return nil, err
	}
	return s, nil
}

// ==================== Ledger rows ====================

type entryRow struct {
	ID           string
	SessionID    string
	Delta        int64
	Reason       string
	GenerationID string
	ModelID      string
	CostUSD      float64
	CreatedAt    sql.NullString
}

func fromEntryRow(r *entryRow) (*entry.Entry, error) {
	eid, err := id.ParseEntryID(r.ID)
	if err != nil {
		return nil, err
	}
	sid, err := id.ParseSessionID(r.SessionID)
	if err != nil {
		return nil, err
	}

	e := &entry.Entry{
		ID:           eid,
		SessionID:    sid,
		Delta:        r.Delta,
		Reason:       entry.Reason(r.Reason),
		GenerationID: r.GenerationID,
		ModelID:      r.ModelID,
		CostUSD:      r.CostUSD,
	}
	if e.CreatedAt, err = decodeTime(r.CreatedAt); err != nil {
		return nil, err
	}
	return e, nil
}

// ==================== Rate limit rows ====================

type rateLimitRow struct {
	Identifier  string
	Endpoint    string
	Count       int
	WindowStart sql.NullString
}

func fromRateLimitRow(r *rateLimitRow) (*ratelimit.Record, error) {
	rec := &ratelimit.Record{
		Identifier: r.Identifier,
		Endpoint:   r.Endpoint,
		Count:      r.Count,
	}
	var err error
	if rec.WindowStart, err = decodeTime(r.WindowStart); err != nil {
		return nil, err
	}
	return rec, nil
}

// ==================== Lockout rows ====================

type lockoutRow struct {
	IPHash       string
	AttemptCount int
	LastAttempt  sql.NullString
	LockedUntil  sql.NullString
	LockoutCount int
}

func fromLockoutRow(r *lockoutRow) (*lockout.Record, error) {
	rec := &lockout.Record{
		IPHash:       r.IPHash,
		AttemptCount: r.AttemptCount,
		LockoutCount: r.LockoutCount,
	}
	var err error
	if rec.LastAttempt, err = decodeTime(r.LastAttempt); err != nil {
		return nil, err
	}
	if rec.LockedUntil, err = decodeTime(r.LockedUntil); err != nil {
		return nil, err
	}
	return rec, nil
}
