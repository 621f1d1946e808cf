// Package credits provides an embeddable prepaid credit accounting engine
// for pay-per-use Go applications.
//
// Credits is designed as a library, not a service. Import it directly into
// your Go application. It provides:
//
//   - A prepaid credit ledger with a reserve → settle-or-release lifecycle
//   - Idempotent lifecycle operations keyed by generation ID
//   - A daily USD spend guard that resets at UTC midnight
//   - Fixed-window rate limiting with per-endpoint limits
//   - Exponential-backoff lockout for failed admin logins
//   - Pluggable storage (memory, SQLite, PostgreSQL, MongoDB)
//   - Lifecycle plugins for audit trails and metrics
//
// # Quick Start
//
// Create a Credits instance with your preferred store:
//
//	import (
//	    "github.com/xraph/credits"
//	    "github.com/xraph/credits/store/sqlite"
//	)
//
//	// Initialize store
//	store, err := sqlite.Open("credits.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create the engine
//	c := credits.New(store)
//
//	// Start it (runs migrations)
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop()
//
// # Core Concepts
//
// Sessions hold the credit balance for one end-user pseudo-identity:
//
//	sess, err := c.CreateSession(ctx, session.TierStandard, 100)
//
// A metered operation reserves credits before it runs, then settles the
// charge on success or releases the hold on failure. The generation ID is
// the idempotency key for all three steps:
//
//	res, err := c.Reserve(ctx, sess.ID, 5, "model-a", genID, 0.02)
//	if err != nil {
//	    return err // insufficient credits or daily budget exhausted
//	}
//
//	output, genErr := runGeneration(ctx)
//	if genErr != nil {
//	    c.Release(ctx, sess.ID, genID) // hold returned to the balance
//	    return genErr
//	}
//	c.Deduct(ctx, sess.ID, 5, "model-a", genID, 0.02) // hold becomes the charge
//
// Replaying any step is safe: the ledger entries for the generation decide
// what already happened, and replays report Already* flags instead of
// double-charging or double-refunding.
//
// # Abuse Controls
//
// Rate limits consume one request per check and report when the window
// resets:
//
//	dec, err := c.CheckRateLimit(ctx, clientKey, "chat")
//	if !dec.Allowed {
//	    return credits.RateLimitErr(dec) // surfaces as HTTP 429
//	}
//
// Failed admin logins back off exponentially per hashed IP:
//
//	st, err := c.CheckAdminLoginAllowed(ctx, lockout.HashIP(clientIP))
//	if !st.Allowed {
//	    return credits.LockoutErr(st)
//	}
//
// # Integrity
//
// The ledger is append-only and every balance mutation commits in the same
// transaction as its ledger entry, so the balance always equals the sum of
// the entries. There is no separate lock table; lifecycle state for a
// generation is recomputed from its entries inside the transaction that
// decides the next step.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	sess_01h2xcejqtf2nbrexx3vqjhp41  // Session ID
//	cle_01h2xcejqtf2nbrexx3vqjhp41   // Ledger entry ID
//	gen_01h455vb4pex5vsknk084sn02q   // Generation ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package credits
