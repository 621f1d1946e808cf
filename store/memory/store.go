// Package memory provides an in-memory Store for tests and demos. A
// single RWMutex serializes every transaction, which trivially satisfies
// the serializable-transaction contract.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

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

type Store struct {
	mu sync.RWMutex

	// Session storage
	sessions map[string]*session.Session

	// Ledger storage, append-only
	entries []*entry.Entry

	// Rate limit storage, keyed identifier + "\x00" + endpoint
	rateLimits map[string]*ratelimit.Record

	// Lockout storage, keyed by IP hash
	logins map[string]*lockout.Record
}

func New() *Store {
	return &Store{
		sessions:   make(map[string]*session.Session),
		entries:    make([]*entry.Entry, 0),
		rateLimits: make(map[string]*ratelimit.Record),
		logins:     make(map[string]*lockout.Record),
	}
}

// Session Store implementation

func (s *Store) CreateSession(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID.String()]; exists {
		return credits.ErrAlreadyExists
	}
	s.sessions[sess.ID.String()] = sess.Clone()
	return nil
}

func (s *Store) GetSession(_ context.Context, sid id.SessionID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[sid.String()]; ok {
		return sess.Clone(), nil
	}
	return nil, credits.ErrSessionNotFound
}

func (s *Store) PurgeExpiredSessions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for key, sess := range s.sessions {
		if !sess.ExpiresAt.IsZero() && sess.ExpiresAt.Before(before) {
			delete(s.sessions, key)
			count++
		}
	}
	return count, nil
}

// Ledger Store implementation

func (s *Store) ListEntries(_ context.Context, sid id.SessionID, opts entry.ListOpts) ([]*entry.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.entriesLocked(sid, opts.GenerationID, opts.Reason)

	start := min(opts.Offset, len(result))
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) UpdateLedger(_ context.Context, sid id.SessionID, generationID string, fn creditstore.LedgerFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sid.String()]
	if !ok {
		return credits.ErrSessionNotFound
	}

	var entries []*entry.Entry
	if generationID != "" {
		entries = s.entriesLocked(sid, generationID, "")
	}

	mut, err := fn(sess.Clone(), entries)
	if err != nil {
		return err
	}
	if mut == nil {
		return nil
	}

	if mut.Session != nil {
		s.sessions[sid.String()] = mut.Session.Clone()
	}
	for _, e := range mut.Append {
		s.entries = append(s.entries, e.Clone())
	}
	return nil
}

// entriesLocked returns copies of matching entries in append order.
// Callers must hold at least the read lock.
func (s *Store) entriesLocked(sid id.SessionID, generationID string, reason entry.Reason) []*entry.Entry {
	result := make([]*entry.Entry, 0)
	for _, e := range s.entries {
		if e.SessionID.String() != sid.String() {
			continue
		}
		if generationID != "" && e.GenerationID != generationID {
			continue
		}
		if reason != "" && e.Reason != reason {
			continue
		}
		result = append(result, e.Clone())
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Rate limit Store implementation

func rateLimitKey(identifier, endpoint string) string {
	return identifier + "\x00" + endpoint
}

func (s *Store) GetRateLimit(_ context.Context, identifier, endpoint string) (*ratelimit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.rateLimits[rateLimitKey(identifier, endpoint)]; ok {
		return rec.Clone(), nil
	}
	return nil, nil
}

func (s *Store) UpdateRateLimit(_ context.Context, identifier, endpoint string, fn creditstore.RateLimitFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rateLimitKey(identifier, endpoint)
	var current *ratelimit.Record
	if rec, ok := s.rateLimits[key]; ok {
		current = rec.Clone()
	}

	upd, err := fn(current)
	if err != nil {
		return err
	}
	if upd != nil {
		s.rateLimits[key] = upd.Clone()
	}
	return nil
}

// Lockout Store implementation

func (s *Store) GetLoginAttempts(_ context.Context, ipHash string) (*lockout.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.logins[ipHash]; ok {
		return rec.Clone(), nil
	}
	return nil, nil
}

func (s *Store) UpdateLoginAttempts(_ context.Context, ipHash string, fn creditstore.LockoutFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *lockout.Record
	if rec, ok := s.logins[ipHash]; ok {
		current = rec.Clone()
	}

	upd, err := fn(current)
	if err != nil {
		return err
	}
	if upd != nil {
		s.logins[ipHash] = upd.Clone()
	}
	return nil
}

func (s *Store) DeleteLoginAttempts(_ context.Context, ipHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.logins, ipHash)
	return nil
}

// Store management

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
