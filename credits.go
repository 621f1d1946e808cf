package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/spend"
	"github.com/xraph/credits/store"
)

// Credits is the pay-per-use accounting engine: a prepaid credit ledger
// with a reserve → settle-or-release lifecycle, a daily spend guard, a
// sliding-window rate limiter, and a login lockout.
type Credits struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Configuration
	rateLimits ratelimit.Config
	lockouts   lockout.Policy
	sessionTTL time.Duration
}

// New creates a new Credits engine.
func New(s store.Store, opts ...Option) *Credits {
	c := &Credits{
		store:      s,
		plugins:    plugin.NewRegistry(),
		logger:     slog.Default(),
		rateLimits: ratelimit.DefaultConfig,
		lockouts:   lockout.DefaultPolicy,
		sessionTTL: 30 * 24 * time.Hour,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Option configures a Credits instance.
type Option func(*Credits)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Credits) {
		c.logger = logger
		c.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(c *Credits) {
		_ = c.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithRateLimits sets the per-endpoint rate limit table.
func WithRateLimits(cfg ratelimit.Config) Option {
	return func(c *Credits) {
		c.rateLimits = cfg
	}
}

// WithLockoutPolicy sets the login lockout policy.
func WithLockoutPolicy(p lockout.Policy) Option {
	return func(c *Credits) {
		c.lockouts = p
	}
}

// WithSessionTTL sets how long a new session lives past creation.
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *Credits) {
		c.sessionTTL = ttl
	}
}

// Start migrates the store and initializes plugins.
func (c *Credits) Start(ctx context.Context) error {
	if err := c.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	c.plugins.EmitInit(ctx, c)

	c.logger.Info("credits engine started",
		"session_ttl", c.sessionTTL,
		"lockout_threshold", c.lockouts.Threshold,
	)

	return nil
}

// Stop shuts down the engine.
func (c *Credits) Stop() error {
	c.plugins.EmitShutdown(context.Background())
	return c.store.Close()
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

// CreateSession creates a session with an opening balance. An opening
// purchase entry is recorded when credits > 0 so that the balance stays a
// pure roll-up of the ledger.
func (c *Credits) CreateSession(ctx context.Context, tier session.Tier, openingCredits int64) (*session.Session, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, tier)
	}
	if openingCredits < 0 {
		return nil, fmt.Errorf("%w: negative opening balance", ErrInvalidAmount)
	}

	now := time.Now().UTC()
	sess := &session.Session{
		ID:           id.NewSessionID(),
		Tier:         tier,
		Credits:      0,
		LastDayReset: spend.UTCMidnight(now),
		LastSeenAt:   now,
		ExpiresAt:    now.Add(c.sessionTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := c.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if openingCredits > 0 {
		if _, err := c.AddCredits(ctx, sess.ID, openingCredits, entry.ReasonPurchase); err != nil {
			return nil, err
		}
		sess.Credits = openingCredits
	}

	c.plugins.EmitSessionCreated(ctx, sess)
	return sess, nil
}

// GetSession retrieves a session by ID.
func (c *Credits) GetSession(ctx context.Context, sid id.SessionID) (*session.Session, error) {
	return c.store.GetSession(ctx, sid)
}

// ListEntries lists ledger entries for a session, oldest first.
func (c *Credits) ListEntries(ctx context.Context, sid id.SessionID, opts entry.ListOpts) ([]*entry.Entry, error) {
	return c.store.ListEntries(ctx, sid, opts)
}

// PurgeExpiredSessions removes sessions whose expiry has passed. Ledger
// history is kept. Intended for the host's periodic sweep.
func (c *Credits) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return c.store.PurgeExpiredSessions(ctx, time.Now().UTC())
}

// ──────────────────────────────────────────────────
// Reservation lifecycle
// ──────────────────────────────────────────────────

// Reserve holds amount credits for the metered operation identified by
// generationID. Replaying the same generationID is a success reporting
// AlreadyReserved with the balance as it stands. The daily spend guard is
// consulted here and only here; admin sessions bypass it.
func (c *Credits) Reserve(ctx context.Context, sid id.SessionID, amount int64, modelID, generationID string, costUSD float64) (*ReserveResult, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := validCost(costUSD); err != nil {
		return nil, err
	}
	if generationID == "" {
		return nil, fmt.Errorf("%w: generation id required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	var res ReserveResult

	err := c.store.UpdateLedger(ctx, sid, generationID, func(sess *session.Session, entries []*entry.Entry) (*store.LedgerMutation, error) {
		// A negative net means a reservation or charge already exists
		// for this generation: idempotent replay.
		if entry.NetDelta(entries) < 0 {
			res = ReserveResult{NewBalance: sess.Credits, AlreadyReserved: true}
			return nil, nil
		}

		verdict := spend.Verdict{Allowed: true}
		if sess.Tier != session.TierAdmin {
			verdict = spend.Check(sess, costUSD, now)
			if !verdict.Allowed {
				return nil, &DailySpendError{
					Limit:     verdict.Limit,
					Spent:     verdict.CurrentSpend,
					Remaining: verdict.Remaining,
				}
			}
		}

		// Should be zero here: a pending reservation would have taken
		// the netDelta path above.
		pending := entry.ReservedOutstanding(entries)
		available := sess.Credits - pending
		if amount > available {
			return nil, &InsufficientCreditsError{Required: amount, Available: available}
		}

		upd := sess.Clone()
		if verdict.ResetNeeded {
			upd.DailySpendUSD = 0
			upd.LastDayReset = spend.UTCMidnight(now)
		}
		if upd.Tier != session.TierAdmin {
			upd.DailySpendUSD += costUSD
		}
		upd.Credits -= amount
		upd.Tier = session.ResolveTier(upd.Tier, upd.Credits)
		upd.Touch(now)

		res = ReserveResult{NewBalance: upd.Credits}
		return &store.LedgerMutation{
			Session: upd,
			Append: []*entry.Entry{{
				ID:           id.NewEntryID(),
				SessionID:    sid,
				Delta:        -amount,
				Reason:       entry.ReasonReservation,
				GenerationID: generationID,
				ModelID:      modelID,
				CostUSD:      costUSD,
				CreatedAt:    now,
			}},
		}, nil
	})
	if err != nil {
		c.emitLedgerDenial(ctx, sid, err)
		return nil, err
	}

	if !res.AlreadyReserved {
		c.plugins.EmitCreditsReserved(ctx, sid.String(), generationID, amount, res.NewBalance)
	}
	return &res, nil
}

// Deduct settles the generation identified by generationID to a permanent
// charge. With a prior reservation the charge converts in place (the hold
// already moved the balance); without one it is a direct debit. Replays
// report AlreadyCharged.
func (c *Credits) Deduct(ctx context.Context, sid id.SessionID, amount int64, modelID, generationID string, costUSD float64) (*DeductResult, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if err := validCost(costUSD); err != nil {
		return nil, err
	}
	if generationID == "" {
		return nil, fmt.Errorf("%w: generation id required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	var res DeductResult

	err := c.store.UpdateLedger(ctx, sid, generationID, func(sess *session.Session, entries []*entry.Entry) (*store.LedgerMutation, error) {
		if entry.HasGeneration(entries) {
			res = DeductResult{NewBalance: sess.Credits, AlreadyCharged: true}
			return nil, nil
		}

		upd := sess.Clone()
		upd.Touch(now)

		if entry.NetDelta(entries) < 0 {
			// The reservation's hold already moved the balance.
			// Convert its reason: the generation charge and a
			// compensating refund net to zero.
			res = DeductResult{NewBalance: sess.Credits, Converted: true}
			return &store.LedgerMutation{
				Session: upd,
				Append: []*entry.Entry{
					{
						ID:           id.NewEntryID(),
						SessionID:    sid,
						Delta:        -amount,
						Reason:       entry.ReasonGeneration,
						GenerationID: generationID,
						ModelID:      modelID,
						CostUSD:      costUSD,
						CreatedAt:    now,
					},
					{
						ID:           id.NewEntryID(),
						SessionID:    sid,
						Delta:        amount,
						Reason:       entry.ReasonRefund,
						GenerationID: generationID,
						ModelID:      modelID,
						CreatedAt:    now,
					},
				},
			}, nil
		}

		// Direct-debit path: no reservation was taken.
		if sess.Credits < amount {
			return nil, &InsufficientCreditsError{Required: amount, Available: sess.Credits}
		}
		upd.Credits -= amount
		upd.Tier = session.ResolveTier(upd.Tier, upd.Credits)

		res = DeductResult{NewBalance: upd.Credits}
		return &store.LedgerMutation{
			Session: upd,
			Append: []*entry.Entry{{
				ID:           id.NewEntryID(),
				SessionID:    sid,
				Delta:        -amount,
				Reason:       entry.ReasonGeneration,
				GenerationID: generationID,
				ModelID:      modelID,
				CostUSD:      costUSD,
				CreatedAt:    now,
			}},
		}, nil
	})
	if err != nil {
		c.emitLedgerDenial(ctx, sid, err)
		return nil, err
	}

	if !res.AlreadyCharged {
		c.plugins.EmitReservationSettled(ctx, sid.String(), generationID, amount, res.Converted)
	}
	return &res, nil
}

// Release reverses an unconsumed reservation, restoring the balance. A
// settled or already-released generation reports AlreadyReleased; nothing
// is refunded twice.
func (c *Credits) Release(ctx context.Context, sid id.SessionID, generationID string) (*ReleaseResult, error) {
	if generationID == "" {
		return nil, fmt.Errorf("%w: generation id required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	var res ReleaseResult

	err := c.store.UpdateLedger(ctx, sid, generationID, func(sess *session.Session, entries []*entry.Entry) (*store.LedgerMutation, error) {
		outstanding := entry.ReservedOutstanding(entries)
		if !entry.HasReservation(entries) || entry.HasGeneration(entries) || outstanding <= 0 {
			res = ReleaseResult{NewBalance: sess.Credits, AlreadyReleased: true}
			return nil, nil
		}

		upd := sess.Clone()
		upd.Credits += outstanding
		upd.Tier = session.ResolveTier(upd.Tier, upd.Credits)
		upd.Touch(now)

		res = ReleaseResult{NewBalance: upd.Credits, Released: outstanding}
		return &store.LedgerMutation{
			Session: upd,
			Append: []*entry.Entry{{
				ID:           id.NewEntryID(),
				SessionID:    sid,
				Delta:        outstanding,
				Reason:       entry.ReasonRefund,
				GenerationID: generationID,
				CreatedAt:    now,
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if !res.AlreadyReleased {
		c.plugins.EmitReservationReleased(ctx, sid.String(), generationID, res.Released, res.NewBalance)
	}
	return &res, nil
}

// AddCredits credits a session outside the reservation lifecycle. Used by
// purchase settlement (reason purchase) and operator corrections (reason
// admin_refund).
func (c *Credits) AddCredits(ctx context.Context, sid id.SessionID, amount int64, reason entry.Reason) (*AddResult, error) {
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	if reason != entry.ReasonPurchase && reason != entry.ReasonAdminRefund {
		return nil, fmt.Errorf("%w: %q cannot add credits", ErrInvalidReason, reason)
	}

	now := time.Now().UTC()
	var res AddResult

	err := c.store.UpdateLedger(ctx, sid, "", func(sess *session.Session, _ []*entry.Entry) (*store.LedgerMutation, error) {
		upd := sess.Clone()
		upd.Credits += amount
		upd.Tier = session.ResolveTier(upd.Tier, upd.Credits)
		upd.Touch(now)

		res = AddResult{NewBalance: upd.Credits}
		return &store.LedgerMutation{
			Session: upd,
			Append: []*entry.Entry{{
				ID:        id.NewEntryID(),
				SessionID: sid,
				Delta:     amount,
				Reason:    reason,
				CreatedAt: now,
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	c.plugins.EmitCreditsAdded(ctx, sid.String(), amount, string(reason), res.NewBalance)
	return &res, nil
}

// ──────────────────────────────────────────────────
// Rate limiting
// ──────────────────────────────────────────────────

// CheckRateLimit consumes one request from the window for (identifier,
// endpoint). Denial is an expected outcome reported in the decision, not
// an error.
func (c *Credits) CheckRateLimit(ctx context.Context, identifier, endpoint string) (*ratelimit.Decision, error) {
	lim := c.rateLimits.For(endpoint)
	now := time.Now().UTC()

	var dec ratelimit.Decision
	err := c.store.UpdateRateLimit(ctx, identifier, endpoint, func(rec *ratelimit.Record) (*ratelimit.Record, error) {
		d, upd := ratelimit.Apply(rec, identifier, endpoint, lim, now)
		dec = d
		return upd, nil
	})
	if err != nil {
		return nil, err
	}

	if !dec.Allowed {
		c.plugins.EmitRateLimitExceeded(ctx, identifier, endpoint, dec.RetryAfter)
	}
	return &dec, nil
}

// RateLimitStatus reports the window state without consuming a request.
func (c *Credits) RateLimitStatus(ctx context.Context, identifier, endpoint string) (*ratelimit.Decision, error) {
	rec, err := c.store.GetRateLimit(ctx, identifier, endpoint)
	if err != nil {
		return nil, err
	}

	dec := ratelimit.Status(rec, c.rateLimits.For(endpoint), time.Now().UTC())
	return &dec, nil
}

// ──────────────────────────────────────────────────
// Login lockout
// ──────────────────────────────────────────────────

// CheckAdminLoginAllowed reports whether a login attempt from ipHash may
// proceed. Read-only.
func (c *Credits) CheckAdminLoginAllowed(ctx context.Context, ipHash string) (*lockout.Status, error) {
	rec, err := c.store.GetLoginAttempts(ctx, ipHash)
	if err != nil {
		return nil, err
	}

	st := lockout.Check(rec, c.lockouts, time.Now().UTC())
	return &st, nil
}

// RecordFailedAdminLogin folds one failed login into the lockout state.
func (c *Credits) RecordFailedAdminLogin(ctx context.Context, ipHash string) (*lockout.FailureResult, error) {
	now := time.Now().UTC()

	var res lockout.FailureResult
	var wasLocked bool
	err := c.store.UpdateLoginAttempts(ctx, ipHash, func(rec *lockout.Record) (*lockout.Record, error) {
		wasLocked = rec != nil && !rec.LockedUntil.IsZero() && now.Before(rec.LockedUntil)
		r, upd := lockout.RecordFailure(rec, ipHash, c.lockouts, now)
		res = r
		return upd, nil
	})
	if err != nil {
		return nil, err
	}

	if res.Locked && !wasLocked {
		c.plugins.EmitLockoutTriggered(ctx, ipHash, res.LockoutCount, res.LockedUntil)
	}
	return &res, nil
}

// ClearAdminLoginAttempts deletes the lockout record after a successful
// login. The next failure starts a fresh sequence, LockoutCount included.
func (c *Credits) ClearAdminLoginAttempts(ctx context.Context, ipHash string) error {
	if err := c.store.DeleteLoginAttempts(ctx, ipHash); err != nil {
		return err
	}

	c.plugins.EmitLockoutCleared(ctx, ipHash)
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func validAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	return nil
}

func validCost(costUSD float64) error {
	if costUSD < 0 || math.IsNaN(costUSD) || math.IsInf(costUSD, 0) {
		return fmt.Errorf("%w: cost %v", ErrInvalidAmount, costUSD)
	}
	return nil
}

func (c *Credits) emitLedgerDenial(ctx context.Context, sid id.SessionID, err error) {
	var insufficient *InsufficientCreditsError
	if errors.As(err, &insufficient) {
		c.plugins.EmitInsufficientCredits(ctx, sid.String(), insufficient.Required, insufficient.Available)
		return
	}

	var daily *DailySpendError
	if errors.As(err, &daily) {
		c.plugins.EmitDailySpendExceeded(ctx, sid.String(), daily.Spent, daily.Limit)
	}
}
