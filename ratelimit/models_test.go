package ratelimit

import (
	"testing"
	"time"
)

var (
	start = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	lim   = Limit{Window: time.Minute, MaxRequests: 20}
)

func TestApplyFirstRequest(t *testing.T) {
	d, rec := Apply(nil, "ip-1", "chat", lim, start)
	if !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d.Remaining != 19 {
		t.Errorf("Remaining = %d, want 19", d.Remaining)
	}
	if rec == nil || rec.Count != 1 || !rec.WindowStart.Equal(start) {
		t.Errorf("unexpected record: %+v", rec)
	}
}

// The 21st call inside the window is denied; the first call after
// WindowStart+Window is allowed again with a fresh window.
func TestWindowBoundary(t *testing.T) {
	var rec *Record
	for i := 0; i < 20; i++ {
		d, upd := Apply(rec, "ip-1", "chat", lim, start.Add(time.Duration(i)*time.Second))
		if !d.Allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
		rec = upd
	}

	d, upd := Apply(rec, "ip-1", "chat", lim, start.Add(30*time.Second))
	if d.Allowed {
		t.Fatal("21st call inside the window should be denied")
	}
	if upd != nil {
		t.Error("denial should not produce a record write")
	}
	if d.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", d.RetryAfter)
	}

	d, upd = Apply(rec, "ip-1", "chat", lim, start.Add(time.Minute))
	if !d.Allowed {
		t.Fatal("first call after the window should be allowed")
	}
	if d.Remaining != 19 {
		t.Errorf("Remaining after reset = %d, want 19", d.Remaining)
	}
	if upd.Count != 1 || !upd.WindowStart.Equal(start.Add(time.Minute)) {
		t.Errorf("window should restart: %+v", upd)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	rec := &Record{Identifier: "ip-1", Endpoint: "chat", Count: 20, WindowStart: start}
	d, _ := Apply(rec, "ip-1", "chat", lim, start.Add(59*time.Second+500*time.Millisecond))
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if d.RetryAfter != 1 {
		t.Errorf("RetryAfter = %d, want 1 (ceil of 0.5s)", d.RetryAfter)
	}
}

func TestStatusDoesNotConsume(t *testing.T) {
	rec := &Record{Identifier: "ip-1", Endpoint: "chat", Count: 5, WindowStart: start}

	d := Status(rec, lim, start.Add(10*time.Second))
	if !d.Allowed || d.Remaining != 15 {
		t.Errorf("Status = %+v, want allowed with 15 remaining", d)
	}
	if rec.Count != 5 {
		t.Error("Status must not mutate the record")
	}

	d = Status(rec, lim, start.Add(2*time.Minute))
	if !d.Allowed || d.Remaining != lim.MaxRequests {
		t.Errorf("stale record should report a full window: %+v", d)
	}

	d = Status(nil, lim, start)
	if !d.Allowed || d.Remaining != lim.MaxRequests {
		t.Errorf("missing record should report a full window: %+v", d)
	}
}

func TestStatusAtCapacity(t *testing.T) {
	rec := &Record{Identifier: "ip-1", Endpoint: "chat", Count: 20, WindowStart: start}
	d := Status(rec, lim, start.Add(30*time.Second))
	if d.Allowed {
		t.Error("status at capacity should report denied")
	}
	if d.RetryAfter != 30 {
		t.Errorf("RetryAfter = %d, want 30", d.RetryAfter)
	}
}

func TestConfigFallback(t *testing.T) {
	cfg := Config{
		Default:   Limit{Window: time.Minute, MaxRequests: 20},
		Endpoints: map[string]Limit{"image": {Window: time.Minute, MaxRequests: 5}},
	}

	if got := cfg.For("image").MaxRequests; got != 5 {
		t.Errorf("explicit endpoint limit = %d, want 5", got)
	}
	if got := cfg.For("unknown").MaxRequests; got != 20 {
		t.Errorf("fallback limit = %d, want 20", got)
	}
}
