package entry

import "testing"

func mk(reason Reason, delta int64) *Entry {
	return &Entry{Reason: reason, Delta: delta, GenerationID: "gen_test"}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name    string
		entries []*Entry
		want    State
	}{
		{"Empty", nil, StateUnseen},
		{"PurchaseOnly", []*Entry{mk(ReasonPurchase, 100)}, StateUnseen},
		{"Reserved", []*Entry{mk(ReasonReservation, -10)}, StateReserved},
		{"Released", []*Entry{mk(ReasonReservation, -10), mk(ReasonRefund, 10)}, StateReleased},
		{"SettledDirect", []*Entry{mk(ReasonGeneration, -10)}, StateSettled},
		{
			"SettledConverted",
			[]*Entry{mk(ReasonReservation, -10), mk(ReasonGeneration, -10), mk(ReasonRefund, 10)},
			StateSettled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.entries); got != tt.want {
				t.Errorf("Derive() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetDelta(t *testing.T) {
	tests := []struct {
		name    string
		entries []*Entry
		want    int64
	}{
		{"Empty", nil, 0},
		{"IgnoresPurchases", []*Entry{mk(ReasonPurchase, 500), mk(ReasonAdminRefund, 50)}, 0},
		{"OpenReservation", []*Entry{mk(ReasonReservation, -10)}, -10},
		{"ReleasedNetsToZero", []*Entry{mk(ReasonReservation, -10), mk(ReasonRefund, 10)}, 0},
		{
			"ConvertedStaysNegative",
			[]*Entry{mk(ReasonReservation, -10), mk(ReasonGeneration, -10), mk(ReasonRefund, 10)},
			-10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NetDelta(tt.entries); got != tt.want {
				t.Errorf("NetDelta() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestReservedOutstanding(t *testing.T) {
	tests := []struct {
		name    string
		entries []*Entry
		want    int64
	}{
		{"Empty", nil, 0},
		{"Open", []*Entry{mk(ReasonReservation, -25)}, 25},
		{"FullyRefunded", []*Entry{mk(ReasonReservation, -25), mk(ReasonRefund, 25)}, 0},
		{"PartiallyRefunded", []*Entry{mk(ReasonReservation, -25), mk(ReasonRefund, 10)}, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ReservedOutstanding(tt.entries); got != tt.want {
				t.Errorf("ReservedOutstanding() = %d, want %d", got, tt.want)
			}
		})
	}
}

// The terminal entry sets allowed for a fixed generation are exactly
// {reservation}, {reservation, refund}, and {reservation, generation,
// refund}. An uncompensated reservation must never coexist with a
// generation charge once derivation reports a terminal state.
func TestLifecycleExclusivity(t *testing.T) {
	reserved := []*Entry{mk(ReasonReservation, -10)}
	released := append(append([]*Entry{}, reserved...), mk(ReasonRefund, 10))
	converted := []*Entry{mk(ReasonReservation, -10), mk(ReasonGeneration, -10), mk(ReasonRefund, 10)}

	if Derive(reserved) != StateReserved {
		t.Error("open reservation should derive reserved")
	}
	if Derive(released) != StateReleased {
		t.Error("refunded reservation should derive released")
	}
	if Derive(converted) != StateSettled {
		t.Error("converted reservation should derive settled")
	}
	// Conversion holds the balance steady: the generation and its
	// compensating refund cancel, leaving only the reservation's hold.
	if NetDelta(converted) != NetDelta(reserved) {
		t.Errorf("conversion changed the net delta: %d != %d", NetDelta(converted), NetDelta(reserved))
	}
}

func TestReasonValid(t *testing.T) {
	for _, r := range []Reason{ReasonPurchase, ReasonReservation, ReasonGeneration, ReasonRefund, ReasonAdminRefund} {
		if !r.Valid() {
			t.Errorf("%q should be valid", r)
		}
	}
	if Reason("chargeback").Valid() {
		t.Error("unknown reason should be invalid")
	}
}
