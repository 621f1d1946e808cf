package postgres

import "time"

// Nullable timestamptz columns round-trip through *time.Time. Zero times
// map to NULL.

func pgTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func fromPGTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return p.UTC()
}
