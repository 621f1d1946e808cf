package session

import (
	"context"
	"time"

	"github.com/xraph/credits/id"
)

// Store is the narrow persistence interface for sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, sid id.SessionID) (*Session, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
