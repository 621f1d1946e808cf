package credits_test

import (
	"context"
	"log/slog"
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

// TestDocumentationExamples verifies that the examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use SQLite or PostgreSQL in production)
		store := memory.New()

		// Initialize the engine
		c := credits.New(store,
			credits.WithLogger(slog.Default()),
			credits.WithSessionTTL(30*24*time.Hour),
		)

		// Start the engine
		ctx := context.Background()
		if err := c.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer c.Stop()

		// Create a session with an opening balance
		sess, err := c.CreateSession(ctx, session.TierStandard, 100)
		if err != nil {
			t.Fatal(err)
		}

		// Reserve, then settle or release keyed by the generation ID
		genID := id.NewGenerationID().String()
		if _, err := c.Reserve(ctx, sess.ID, 5, "model-a", genID, 0.02); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Deduct(ctx, sess.ID, 5, "model-a", genID, 0.02); err != nil {
			t.Fatal(err)
		}

		// Inspect the ledger
		entries, err := c.ListEntries(ctx, sess.ID, entry.ListOpts{GenerationID: genID})
		if err != nil {
			t.Fatal(err)
		}
		if got := entry.Derive(entries); got != entry.StateSettled {
			t.Fatalf("lifecycle state = %q, want settled", got)
		}
	})

	t.Run("AbuseControlExample", func(t *testing.T) {
		c := credits.New(memory.New(),
			credits.WithRateLimits(ratelimit.DefaultConfig),
			credits.WithLockoutPolicy(lockout.DefaultPolicy),
		)
		ctx := context.Background()
		if err := c.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer c.Stop()

		// Rate limit check, surfaced as an error for HTTP handlers
		dec, err := c.CheckRateLimit(ctx, "client-key", "chat")
		if err != nil {
			t.Fatal(err)
		}
		if rlErr := credits.RateLimitErr(dec); rlErr != nil {
			t.Fatal(rlErr)
		}

		// Lockout check before an admin login attempt
		st, err := c.CheckAdminLoginAllowed(ctx, lockout.HashIP("203.0.113.7"))
		if err != nil {
			t.Fatal(err)
		}
		if loErr := credits.LockoutErr(st); loErr != nil {
			t.Fatal(loErr)
		}
	})
}
