package mongo

import (
	"time"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
)

// Optional times use pointers so a zero time stores as a missing field
// instead of the epoch.

func bsonTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromBSONTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return p.UTC()
}

// ==================== Session models ====================

type sessionModel struct {
	ID                 string     `bson:"_id"`
	Tier               string     `bson:"tier"`
	Credits            int64      `bson:"credits"`
	DailySpendUSD      float64    `bson:"daily_spend_usd"`
	DailySpendLimitUSD float64    `bson:"daily_spend_limit_usd"`
	LastDayReset       *time.Time `bson:"last_day_reset,omitempty"`
	LastSeenAt         *time.Time `bson:"last_seen_at,omitempty"`
	ExpiresAt          *time.Time `bson:"expires_at,omitempty"`
	CreatedAt          *time.Time `bson:"created_at,omitempty"`
	UpdatedAt          *time.Time `bson:"updated_at,omitempty"`
}

func toSessionModel(s *session.Session) *sessionModel {
	return &sessionModel{
		ID:                 s.ID.String(),
		Tier:               string(s.Tier),
		Credits:            s.Credits,
		DailySpendUSD:      s.DailySpendUSD,
		DailySpendLimitUSD: s.DailySpendLimitUSD,
		LastDayReset:       bsonTime(s.LastDayReset),
		LastSeenAt:         bsonTime(s.LastSeenAt),
		ExpiresAt:          bsonTime(s.ExpiresAt),
		CreatedAt:          bsonTime(s.CreatedAt),
		UpdatedAt:          bsonTime(s.UpdatedAt),
	}
}

func fromSessionModel(m *sessionModel) (*session.Session, error) {
	sid, err := id.ParseSessionID(m.ID)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		ID:                 sid,
		Tier:               session.Tier(m.Tier),
		Credits:            m.Credits,
		DailySpendUSD:      m.DailySpendUSD,
		DailySpendLimitUSD: m.DailySpendLimitUSD,
		LastDayReset:       fromBSONTime(m.LastDayReset),
		LastSeenAt:         fromBSONTime(m.LastSeenAt),
		ExpiresAt:          fromBSONTime(m.ExpiresAt),
		CreatedAt:          fromBSONTime(m.CreatedAt),
		UpdatedAt:          fromBSONTime(m.UpdatedAt),
	}, nil
}

// ==================== Ledger models ====================

type entryModel struct {
	ID           string     `bson:"_id"`
	SessionID    string     `bson:"session_id"`
	Delta        int64      `bson:"delta"`
	Reason       string     `bson:"reason"`
	GenerationID string     `bson:"generation_id,omitempty"`
	ModelID      string     `bson:"model_id,omitempty"`
	CostUSD      float64    `bson:"cost_usd,omitempty"`
	CreatedAt    *time.Time `bson:"created_at,omitempty"`
}

func toEntryModel(e *entry.Entry) *entryModel {
	return &entryModel{
		ID:           e.ID.String(),
		SessionID:    e.SessionID.String(),
		Delta:        e.Delta,
		Reason:       string(e.Reason),
		GenerationID: e.GenerationID,
		ModelID:      e.ModelID,
		CostUSD:      e.CostUSD,
		CreatedAt:    bsonTime(e.CreatedAt),
	}
}

func fromEntryModel(m *entryModel) (*entry.Entry, error) {
	eid, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	sid, err := id.ParseSessionID(m.SessionID)
	if err != nil {
		return nil, err
	}
	return &entry.Entry{
		ID:           eid,
		SessionID:    sid,
		Delta:        m.Delta,
		Reason:       entry.Reason(m.Reason),
		GenerationID: m.GenerationID,
		ModelID:      m.ModelID,
		CostUSD:      m.CostUSD,
		CreatedAt:    fromBSONTime(m.CreatedAt),
	}, nil
}

// ==================== Rate limit models ====================

type rateLimitModel struct {
	Identifier  string     `bson:"identifier"`
	Endpoint    string     `bson:"endpoint"`
	Count       int        `bson:"count"`
	WindowStart *time.Time `bson:"window_start,omitempty"`
}

func toRateLimitModel(r *ratelimit.Record) *rateLimitModel {
	return &rateLimitModel{
		Identifier:  r.Identifier,
		Endpoint:    r.Endpoint,
		Count:       r.Count,
		WindowStart: bsonTime(r.WindowStart),
	}
}

func fromRateLimitModel(m *rateLimitModel) *ratelimit.Record {
	return &ratelimit.Record{
		Identifier:  m.Identifier,
		Endpoint:    m.Endpoint,
		Count:       m.Count,
		WindowStart: fromBSONTime(m.WindowStart),
	}
}

// ==================== Lockout models ====================

type lockoutModel struct {
	IPHash       string     `bson:"_id"`
	AttemptCount int        `bson:"attempt_count"`
	LastAttempt  *time.Time `bson:"last_attempt,omitempty"`
	LockedUntil  *time.Time `bson:"locked_until,omitempty"`
	LockoutCount int        `bson:"lockout_count"`
}

func toLockoutModel(r *lockout.Record) *lockoutModel {
	return &lockoutModel{
		IPHash:       r.IPHash,
		AttemptCount: r.AttemptCount,
		LastAttempt:  bsonTime(r.LastAttempt),
		LockedUntil:  bsonTime(r.LockedUntil),
		LockoutCount: r.LockoutCount,
	}
}

func fromLockoutModel(m *lockoutModel) *lockout.Record {
	return &lockout.Record{
		IPHash:       m.IPHash,
		AttemptCount: m.AttemptCount,
		LastAttempt:  fromBSONTime(m.LastAttempt),
		LockedUntil:  fromBSONTime(m.LockedUntil),
		LockoutCount: m.LockoutCount,
	}
}
