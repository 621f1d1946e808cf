package spend

import (
	"testing"
	"time"

	"github.com/xraph/credits/session"
)

var noon = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestCheck(t *testing.T) {
	tests := []struct {
		name        string
		sess        *session.Session
		cost        float64
		wantAllowed bool
		wantReset   bool
	}{
		{
			"FreshSessionUnderLimit",
			&session.Session{Tier: session.TierStandard, LastDayReset: UTCMidnight(noon)},
			4.99, true, false,
		},
		{
			"FreshSessionOverLimit",
			&session.Session{Tier: session.TierStandard, LastDayReset: UTCMidnight(noon)},
			5.01, false, false,
		},
		{
			"ExactlyAtLimit",
			&session.Session{Tier: session.TierStandard, DailySpendUSD: 2.5, LastDayReset: UTCMidnight(noon)},
			2.5, true, false,
		},
		{
			"SpentUpAgainstLimit",
			&session.Session{Tier: session.TierStandard, DailySpendUSD: 4.99, LastDayReset: UTCMidnight(noon)},
			0.02, false, false,
		},
		{
			"AdminBypasses",
			&session.Session{Tier: session.TierAdmin, DailySpendUSD: 100, LastDayReset: UTCMidnight(noon)},
			50, true, false,
		},
		{
			"CustomLimit",
			&session.Session{Tier: session.TierStandard, DailySpendLimitUSD: 20, DailySpendUSD: 15, LastDayReset: UTCMidnight(noon)},
			4.99, true, false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Check(tt.sess, tt.cost, noon)
			if v.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (verdict %+v)", v.Allowed, tt.wantAllowed, v)
			}
			if v.ResetNeeded != tt.wantReset {
				t.Errorf("ResetNeeded = %v, want %v", v.ResetNeeded, tt.wantReset)
			}
		})
	}
}

// A session that spent 4.99 of a 5.00 budget yesterday must accept a 4.99
// charge today (the stale spend resets before comparing), then reject 5.01
// an instant later without any further reset.
func TestDayBoundaryReset(t *testing.T) {
	sess := &session.Session{
		Tier:          session.TierStandard,
		DailySpendUSD: 4.99,
		LastDayReset:  UTCMidnight(noon.AddDate(0, 0, -1)),
	}

	v := Check(sess, 4.99, noon)
	if !v.Allowed {
		t.Fatalf("stale spend should reset before comparing: %+v", v)
	}
	if !v.ResetNeeded {
		t.Fatal("expected ResetNeeded for a stale LastDayReset")
	}
	if v.CurrentSpend != 0 {
		t.Errorf("CurrentSpend after reset = %v, want 0", v.CurrentSpend)
	}

	// Caller persists the reset and the increment.
	sess.DailySpendUSD = 4.99
	sess.LastDayReset = UTCMidnight(noon)

	v = Check(sess, 5.01, noon.Add(time.Second))
	if v.Allowed {
		t.Fatalf("charge past the limit should be rejected: %+v", v)
	}
	if v.ResetNeeded {
		t.Error("no reset should be needed within the same UTC day")
	}
}

func TestDefaultLimitApplies(t *testing.T) {
	sess := &session.Session{Tier: session.TierStandard, LastDayReset: UTCMidnight(noon)}
	v := Check(sess, 0, noon)
	if v.Limit != DefaultDailyLimitUSD {
		t.Errorf("Limit = %v, want default %v", v.Limit, DefaultDailyLimitUSD)
	}
}

func TestUTCMidnight(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	local := time.Date(2025, 6, 15, 22, 30, 0, 0, est) // 03:30 June 16 UTC
	got := UTCMidnight(local)
	want := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("UTCMidnight = %v, want %v", got, want)
	}
}
