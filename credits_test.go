package credits_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/credits"
	"github.com/xraph/credits/entry"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/lockout"
	"github.com/xraph/credits/ratelimit"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/store/memory"
)

func newEngine(t *testing.T, opts ...credits.Option) *credits.Credits {
	t.Helper()
	c := credits.New(memory.New(), opts...)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func newSession(t *testing.T, c *credits.Credits, tier session.Tier, balance int64) *session.Session {
	t.Helper()
	sess, err := c.CreateSession(context.Background(), tier, balance)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return sess
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

func TestCreateSession(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	sess := newSession(t, c, session.TierStandard, 100)
	if sess.Credits != 100 {
		t.Errorf("Credits = %d, want 100", sess.Credits)
	}

	// The opening balance must exist as a purchase entry, not a bare
	// field write.
	entries, err := c.ListEntries(ctx, sess.ID, entry.ListOpts{Reason: entry.ReasonPurchase})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Delta != 100 {
		t.Errorf("opening purchase entries = %+v, want one entry with delta 100", entries)
	}

	got, err := c.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Credits != 100 || got.Tier != session.TierStandard {
		t.Errorf("GetSession = %+v", got)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	if _, err := c.CreateSession(ctx, "vip", 10); !errors.Is(err, credits.ErrInvalidInput) {
		t.Errorf("unknown tier: err = %v, want ErrInvalidInput", err)
	}
	if _, err := c.CreateSession(ctx, session.TierStandard, -1); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("negative balance: err = %v, want ErrInvalidAmount", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	c := newEngine(t)
	_, err := c.GetSession(context.Background(), id.NewSessionID())
	if !credits.IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	c := newEngine(t, credits.WithSessionTTL(-time.Hour))
	ctx := context.Background()

	sess := newSession(t, c, session.TierStandard, 0)

	purged, err := c.PurgeExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("PurgeExpiredSessions: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := c.GetSession(ctx, sess.ID); !credits.IsNotFound(err) {
		t.Errorf("purged session still readable: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Reservation lifecycle
// ──────────────────────────────────────────────────

func TestReserveSettle(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	res, err := c.Reserve(ctx, sess.ID, 5, "model-a", gen, 0.02)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.NewBalance != 95 || res.AlreadyReserved {
		t.Errorf("Reserve = %+v, want balance 95", res)
	}

	ded, err := c.Deduct(ctx, sess.ID, 5, "model-a", gen, 0.02)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if !ded.Converted || ded.AlreadyCharged {
		t.Errorf("Deduct = %+v, want converted", ded)
	}
	if ded.NewBalance != 95 {
		t.Errorf("settling a reservation moved the balance: %d", ded.NewBalance)
	}
}

func TestReserveIdempotent(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	if _, err := c.Reserve(ctx, sess.ID, 5, "model-a", gen, 0.02); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	res, err := c.Reserve(ctx, sess.ID, 5, "model-a", gen, 0.02)
	if err != nil {
		t.Fatalf("Reserve replay: %v", err)
	}
	if !res.AlreadyReserved || res.NewBalance != 95 {
		t.Errorf("replay = %+v, want AlreadyReserved at 95", res)
	}

	// Exactly one reservation entry must exist.
	entries, err := c.ListEntries(ctx, sess.ID, entry.ListOpts{GenerationID: gen})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].Reason != entry.ReasonReservation {
		t.Errorf("entries = %+v, want a single reservation", entries)
	}
}

func TestDeductIdempotent(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	if _, err := c.Reserve(ctx, sess.ID, 5, "model-a", gen, 0.02); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := c.Deduct(ctx, sess.ID, 5, "model-a", gen, 0.02); err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	ded, err := c.Deduct(ctx, sess.ID, 5, "model-a", gen, 0.02)
	if err != nil {
		t.Fatalf("Deduct replay: %v", err)
	}
	if !ded.AlreadyCharged || ded.NewBalance != 95 {
		t.Errorf("replay = %+v, want AlreadyCharged at 95", ded)
	}
}

func TestDeductWithoutReservation(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	ded, err := c.Deduct(ctx, sess.ID, 5, "model-a", gen, 0.02)
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if ded.Converted || ded.NewBalance != 95 {
		t.Errorf("direct debit = %+v, want balance 95 without conversion", ded)
	}
}

func TestReleaseRestoresBalance(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	if _, err := c.Reserve(ctx, sess.ID, 5, "model-a", gen, 0.02); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	rel, err := c.Release(ctx, sess.ID, gen)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if rel.Released != 5 || rel.NewBalance != 100 {
		t.Errorf("Release = %+v, want 5 back to 100", rel)
	}

	// Replay refunds nothing.
	rel, err = c.Release(ctx, sess.ID, gen)
	if err != nil {
		t.Fatalf("Release replay: %v", err)
	}
	if !rel.AlreadyReleased || rel.NewBalance != 100 {
		t.Errorf("replay = %+v, want AlreadyReleased at 100", rel)
	}
}

func TestReleaseAfterSettleRefundsNothing(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	if _, err := c.Reserve(ctx, sess.ID, 5, "model-a", gen, 0.02); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if _, err := c.Deduct(ctx, sess.ID, 5, "model-a", gen, 0.02); err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	rel, err := c.Release(ctx, sess.ID, gen)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !rel.AlreadyReleased || rel.NewBalance != 95 {
		t.Errorf("release of settled charge = %+v, want AlreadyReleased at 95", rel)
	}
}

func TestBalanceEqualsLedgerSum(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)

	genA := id.NewGenerationID().String()
	genB := id.NewGenerationID().String()

	if _, err := c.Reserve(ctx, sess.ID, 5, "model-a", genA, 0.02); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Deduct(ctx, sess.ID, 5, "model-a", genA, 0.02); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Reserve(ctx, sess.ID, 10, "model-b", genB, 0.05); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Release(ctx, sess.ID, genB); err != nil {
		t.Fatal(err)
	}
	if _, err := c.AddCredits(ctx, sess.ID, 20, entry.ReasonAdminRefund); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := c.ListEntries(ctx, sess.ID, entry.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	var sum int64
	for _, e := range entries {
		sum += e.Delta
	}

	if got.Credits != sum {
		t.Errorf("balance %d != ledger sum %d", got.Credits, sum)
	}
	if got.Credits != 115 { // 100 - 5 + 20
		t.Errorf("balance = %d, want 115", got.Credits)
	}
}

func TestInsufficientCredits(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 5)

	_, err := c.Reserve(ctx, sess.ID, 100, "model-a", id.NewGenerationID().String(), 0.02)
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}

	var ice *credits.InsufficientCreditsError
	if !errors.As(err, &ice) {
		t.Fatalf("err = %T, want *InsufficientCreditsError", err)
	}
	if ice.Required != 100 || ice.Available != 5 {
		t.Errorf("error = %+v, want required 100 available 5", ice)
	}
	if !credits.IsDenied(err) {
		t.Error("insufficient credits should classify as a denial")
	}

	// The failed reservation must not move the balance.
	got, err := c.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Credits != 5 {
		t.Errorf("balance = %d, want 5", got.Credits)
	}
}

func TestDailySpendGuard(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 1000)

	_, err := c.Reserve(ctx, sess.ID, 5, "model-a", id.NewGenerationID().String(), 5.01)
	if !errors.Is(err, credits.ErrDailySpendExceeded) {
		t.Fatalf("err = %v, want ErrDailySpendExceeded", err)
	}

	var dse *credits.DailySpendError
	if !errors.As(err, &dse) {
		t.Fatalf("err = %T, want *DailySpendError", err)
	}
	if dse.Limit != 5.0 {
		t.Errorf("Limit = %v, want default 5.0", dse.Limit)
	}
}

func TestAdminBypassesDailySpend(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierAdmin, 1000)

	res, err := c.Reserve(ctx, sess.ID, 5, "model-a", id.NewGenerationID().String(), 50.0)
	if err != nil {
		t.Fatalf("admin reserve: %v", err)
	}
	if res.NewBalance != 995 {
		t.Errorf("NewBalance = %d, want 995", res.NewBalance)
	}

	// Admin spend does not accumulate against the daily budget.
	got, err := c.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.DailySpendUSD != 0 {
		t.Errorf("DailySpendUSD = %v, want 0 for admin", got.DailySpendUSD)
	}
}

func TestLifecycleValidation(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 100)
	gen := id.NewGenerationID().String()

	if _, err := c.Reserve(ctx, sess.ID, 0, "m", gen, 0.01); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := c.Reserve(ctx, sess.ID, -5, "m", gen, 0.01); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("negative amount: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := c.Reserve(ctx, sess.ID, 5, "m", "", 0.01); !errors.Is(err, credits.ErrInvalidInput) {
		t.Errorf("empty generation id: err = %v, want ErrInvalidInput", err)
	}
	if _, err := c.Reserve(ctx, sess.ID, 5, "m", gen, -0.01); !errors.Is(err, credits.ErrInvalidAmount) {
		t.Errorf("negative cost: err = %v, want ErrInvalidAmount", err)
	}
	if _, err := c.Release(ctx, sess.ID, ""); !errors.Is(err, credits.ErrInvalidInput) {
		t.Errorf("release empty generation id: err = %v, want ErrInvalidInput", err)
	}
}

func TestAddCreditsReasons(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	sess := newSession(t, c, session.TierStandard, 0)

	if _, err := c.AddCredits(ctx, sess.ID, 50, entry.ReasonPurchase); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	res, err := c.AddCredits(ctx, sess.ID, 25, entry.ReasonAdminRefund)
	if err != nil {
		t.Fatalf("admin refund: %v", err)
	}
	if res.NewBalance != 75 {
		t.Errorf("NewBalance = %d, want 75", res.NewBalance)
	}

	// Lifecycle reasons never enter through AddCredits.
	if _, err := c.AddCredits(ctx, sess.ID, 10, entry.ReasonRefund); !errors.Is(err, credits.ErrInvalidReason) {
		t.Errorf("refund reason: err = %v, want ErrInvalidReason", err)
	}
	if _, err := c.AddCredits(ctx, sess.ID, 10, entry.ReasonGeneration); !errors.Is(err, credits.ErrInvalidReason) {
		t.Errorf("generation reason: err = %v, want ErrInvalidReason", err)
	}
}

// ──────────────────────────────────────────────────
// Rate limiting
// ──────────────────────────────────────────────────

func TestCheckRateLimit(t *testing.T) {
	c := newEngine(t, credits.WithRateLimits(ratelimit.Config{
		Default:   ratelimit.Limit{Window: time.Minute, MaxRequests: 3},
		Endpoints: map[string]ratelimit.Limit{},
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		dec, err := c.CheckRateLimit(ctx, "ip-1", "chat")
		if err != nil {
			t.Fatalf("CheckRateLimit %d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	dec, err := c.CheckRateLimit(ctx, "ip-1", "chat")
	if err != nil {
		t.Fatal(err)
	}
	if dec.Allowed {
		t.Fatal("4th call should be denied")
	}
	if dec.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %d, want > 0", dec.RetryAfter)
	}
	if rlErr := credits.RateLimitErr(dec); !errors.Is(rlErr, credits.ErrRateLimitExceeded) {
		t.Errorf("RateLimitErr = %v, want ErrRateLimitExceeded", rlErr)
	}

	// A different identifier has its own window.
	dec, err = c.CheckRateLimit(ctx, "ip-2", "chat")
	if err != nil {
		t.Fatal(err)
	}
	if !dec.Allowed {
		t.Error("other identifier should not share the window")
	}
}

func TestRateLimitStatusDoesNotConsume(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()

	if _, err := c.CheckRateLimit(ctx, "ip-1", "image"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		dec, err := c.RateLimitStatus(ctx, "ip-1", "image")
		if err != nil {
			t.Fatal(err)
		}
		if dec.Remaining != 4 {
			t.Fatalf("Remaining = %d, want 4 (status must not consume)", dec.Remaining)
		}
	}
}

// ──────────────────────────────────────────────────
// Login lockout
// ──────────────────────────────────────────────────

func TestLoginLockoutFlow(t *testing.T) {
	c := newEngine(t)
	ctx := context.Background()
	ipHash := lockout.HashIP("203.0.113.7")

	st, err := c.CheckAdminLoginAllowed(ctx, ipHash)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Allowed {
		t.Fatal("fresh hash should be allowed")
	}

	var last *lockout.FailureResult
	for i := 0; i < 5; i++ {
		last, err = c.RecordFailedAdminLogin(ctx, ipHash)
		if err != nil {
			t.Fatalf("RecordFailedAdminLogin %d: %v", i, err)
		}
	}
	if !last.Locked || last.LockoutCount != 1 {
		t.Fatalf("after 5 failures: %+v, want locked with LockoutCount 1", last)
	}

	st, err = c.CheckAdminLoginAllowed(ctx, ipHash)
	if err != nil {
		t.Fatal(err)
	}
	if st.Allowed {
		t.Fatal("locked hash should be denied")
	}
	if loErr := credits.LockoutErr(st); !errors.Is(loErr, credits.ErrLoginLocked) {
		t.Errorf("LockoutErr = %v, want ErrLoginLocked", loErr)
	}

	// A successful login clears everything, backoff history included.
	if err := c.ClearAdminLoginAttempts(ctx, ipHash); err != nil {
		t.Fatal(err)
	}
	st, err = c.CheckAdminLoginAllowed(ctx, ipHash)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Allowed || st.LockoutCount != 0 {
		t.Errorf("after clear: %+v, want allowed with no history", st)
	}
}
