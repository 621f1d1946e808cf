package lockout

import (
	"testing"
	"time"
)

var (
	t0     = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	policy = DefaultPolicy
)

func fail(rec *Record, now time.Time) (FailureResult, *Record) {
	return RecordFailure(rec, "hash-1", policy, now)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		lockoutCount int
		want         time.Duration
	}{
		{0, time.Hour},
		{1, 2 * time.Hour},
		{2, 4 * time.Hour},
		{3, 8 * time.Hour},
		{4, 16 * time.Hour},
		{5, 24 * time.Hour}, // capped
		{10, 24 * time.Hour},
		{100, 24 * time.Hour}, // no overflow at absurd counts
	}

	for _, tt := range tests {
		if got := Backoff(policy, tt.lockoutCount); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.lockoutCount, got, tt.want)
		}
	}
}

// Five failures lock for 1h; after that lockout elapses, five more lock
// for 2h; LockoutCount climbs 1, 2.
func TestBackoffSequence(t *testing.T) {
	var rec *Record
	now := t0

	for i := 0; i < 4; i++ {
		res, upd := fail(rec, now)
		if res.Locked {
			t.Fatalf("failure %d should not lock yet", i+1)
		}
		if res.AttemptsRemaining != 4-i {
			t.Errorf("failure %d: AttemptsRemaining = %d, want %d", i+1, res.AttemptsRemaining, 4-i)
		}
		rec = upd
		now = now.Add(time.Second)
	}

	res, rec := fail(rec, now)
	if !res.Locked {
		t.Fatal("5th failure should trigger a lockout")
	}
	if res.LockoutCount != 1 {
		t.Errorf("LockoutCount = %d, want 1", res.LockoutCount)
	}
	if want := now.Add(time.Hour); !res.LockedUntil.Equal(want) {
		t.Errorf("LockedUntil = %v, want %v", res.LockedUntil, want)
	}

	if st := Check(rec, policy, now.Add(30*time.Minute)); st.Allowed {
		t.Error("check during the lockout should deny")
	}

	// Lockout elapses; counting starts over but LockoutCount persists.
	now = res.LockedUntil.Add(time.Second)
	for i := 0; i < 4; i++ {
		res, rec = fail(rec, now)
		if res.Locked {
			t.Fatalf("post-lockout failure %d should not lock yet", i+1)
		}
		if res.LockoutCount != 1 {
			t.Errorf("LockoutCount should persist through the reset, got %d", res.LockoutCount)
		}
		now = now.Add(time.Second)
	}

	res, _ = fail(rec, now)
	if !res.Locked {
		t.Fatal("5th post-lockout failure should lock again")
	}
	if res.LockoutCount != 2 {
		t.Errorf("LockoutCount = %d, want 2", res.LockoutCount)
	}
	if want := now.Add(2 * time.Hour); !res.LockedUntil.Equal(want) {
		t.Errorf("second lockout should double: LockedUntil = %v, want %v", res.LockedUntil, want)
	}
}

func TestWindowElapseResetsCount(t *testing.T) {
	_, rec := fail(nil, t0)
	_, rec = fail(rec, t0.Add(time.Minute))
	if rec.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", rec.AttemptCount)
	}

	res, rec := fail(rec, t0.Add(time.Minute).Add(policy.Window))
	if res.Locked {
		t.Fatal("failure after the window should start a fresh count")
	}
	if rec.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", rec.AttemptCount)
	}
}

func TestCheck(t *testing.T) {
	t.Run("NoRecord", func(t *testing.T) {
		st := Check(nil, policy, t0)
		if !st.Allowed || st.AttemptsRemaining != policy.Threshold {
			t.Errorf("Check(nil) = %+v", st)
		}
	})

	t.Run("ActiveLockout", func(t *testing.T) {
		rec := &Record{IPHash: "h", AttemptCount: 5, LastAttempt: t0, LockedUntil: t0.Add(time.Hour), LockoutCount: 1}
		st := Check(rec, policy, t0.Add(30*time.Minute))
		if st.Allowed {
			t.Fatal("active lockout should deny")
		}
		if !st.LockedUntil.Equal(rec.LockedUntil) {
			t.Errorf("LockedUntil = %v, want %v", st.LockedUntil, rec.LockedUntil)
		}
	})

	t.Run("ExpiredLockout", func(t *testing.T) {
		rec := &Record{IPHash: "h", AttemptCount: 5, LastAttempt: t0, LockedUntil: t0.Add(time.Hour), LockoutCount: 1}
		st := Check(rec, policy, t0.Add(2*time.Hour))
		if !st.Allowed {
			t.Fatal("expired lockout should allow")
		}
		if st.AttemptsRemaining != policy.Threshold {
			t.Errorf("AttemptsRemaining = %d, want full threshold", st.AttemptsRemaining)
		}
	})

	t.Run("MidWindow", func(t *testing.T) {
		rec := &Record{IPHash: "h", AttemptCount: 3, LastAttempt: t0}
		st := Check(rec, policy, t0.Add(time.Minute))
		if !st.Allowed || st.AttemptsRemaining != 2 {
			t.Errorf("Check = %+v, want allowed with 2 remaining", st)
		}
	})
}

// A record over the threshold whose LockedUntil write was lost must still
// deny, reconstructing the deadline from LastAttempt and the backoff
// formula.
func TestCheckSelfHealsMissingDeadline(t *testing.T) {
	rec := &Record{IPHash: "h", AttemptCount: 5, LastAttempt: t0, LockoutCount: 1}

	st := Check(rec, policy, t0.Add(time.Hour))
	if st.Allowed {
		t.Fatal("over-threshold record without a deadline should still deny")
	}
	if want := t0.Add(2 * time.Hour); !st.LockedUntil.Equal(want) {
		t.Errorf("reconstructed deadline = %v, want %v (backoff for count 1)", st.LockedUntil, want)
	}

	if st := Check(rec, policy, t0.Add(3*time.Hour)); !st.Allowed {
		t.Error("reconstructed deadline should also expire")
	}
}

func TestHashIP(t *testing.T) {
	a, b := HashIP("203.0.113.7"), HashIP("203.0.113.7")
	if a != b {
		t.Error("hash must be deterministic")
	}
	if a == HashIP("203.0.113.8") {
		t.Error("distinct IPs should hash differently")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}
