package domain

import (
	"errors"
	"testing"

	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

func newTestOrder() *Order {
	return NewOrder(1, "BTCUSDT", SideBuy, TypeLimit, 50_000_000000, 100_00000000, 1704067200_000000)
}

func TestOrder_TransitionTable(t *testing.T) {
	tests := []struct {
		name string
		from OrderState
		to   OrderState
		ok   bool
	}{
		{"new to acked", StateNew, StateAcked, true},
		{"new to rejected", StateNew, StateRejected, true},
		{"new to filled", StateNew, StateFilled, false},
		{"new to canceled", StateNew, StateCanceled, false},
		{"acked to partial", StateAcked, StatePartiallyFilled, true},
		{"acked to filled", StateAcked, StateFilled, true},
		{"acked to canceled", StateAcked, StateCanceled, true},
		{"acked to new", StateAcked, StateNew, false},
		{"partial to filled", StatePartiallyFilled, StateFilled, true},
		{"partial to canceled", StatePartiallyFilled, StateCanceled, true},
		{"partial to acked", StatePartiallyFilled, StateAcked, false},
		{"filled is terminal", StateFilled, StateCanceled, false},
		{"canceled is terminal", StateCanceled, StateAcked, false},
		{"rejected is terminal", StateRejected, StateAcked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder()
			o.State = tt.from
			err := o.Transition(tt.to)
			if tt.ok {
				if err != nil {
					t.Fatalf("Transition(%s -> %s) failed: %v", tt.from, tt.to, err)
				}
				if o.State != tt.to {
					t.Errorf("state = %s; want %s", o.State, tt.to)
				}
			} else {
				if err == nil {
					t.Fatalf("Transition(%s -> %s) should fail", tt.from, tt.to)
				}
				if !errors.Is(err, ErrIllegalTransition) {
					t.Errorf("error should wrap ErrIllegalTransition, got %v", err)
				}
				if o.State != tt.from {
					t.Errorf("failed transition mutated state: %s", o.State)
				}
			}
		})
	}
}

func TestOrder_FillConservation(t *testing.T) {
	o := newTestOrder()
	if err := o.Transition(StateAcked); err != nil {
		t.Fatal(err)
	}

	fills := []quant.QtySats{30_00000000, 50_00000000, 40_00000000}
	for _, q := range fills {
		if _, err := o.Fill(q); err != nil {
			t.Fatalf("Fill(%d) failed: %v", q, err)
		}
		if o.FilledSats+o.RemainingSats != o.QtySats {
			t.Fatalf("conservation broken: filled=%d remaining=%d requested=%d",
				o.FilledSats, o.RemainingSats, o.QtySats)
		}
	}

	// Last fill was capped at remaining (20).
	if o.FilledSats != o.QtySats {
		t.Errorf("filled = %d; want %d", o.FilledSats, o.QtySats)
	}
	if o.State != StateFilled {
		t.Errorf("state = %s; want FILLED", o.State)
	}
}

func TestOrder_FillRequiresAcked(t *testing.T) {
	o := newTestOrder()
	if _, err := o.Fill(10_00000000); err == nil {
		t.Fatal("Fill in NEW state should fail")
	}
	if o.FilledSats != 0 || o.RemainingSats != o.QtySats {
		t.Error("failed fill mutated quantities")
	}
	if o.State != StateNew {
		t.Errorf("failed fill mutated state: %s", o.State)
	}
}

func TestOrder_PartialThenFilled(t *testing.T) {
	o := newTestOrder()
	o.Transition(StateAcked)

	filled, err := o.Fill(60_00000000)
	if err != nil {
		t.Fatal(err)
	}
	if filled != 60_00000000 {
		t.Errorf("filled = %d; want 60", filled)
	}
	if o.State != StatePartiallyFilled {
		t.Errorf("state = %s; want PARTIALLY_FILLED", o.State)
	}

	filled, err = o.Fill(100_00000000)
	if err != nil {
		t.Fatal(err)
	}
	if filled != 40_00000000 {
		t.Errorf("capped fill = %d; want 40", filled)
	}
	if o.State != StateFilled {
		t.Errorf("state = %s; want FILLED", o.State)
	}
}

func TestOrder_RepeatedPartialFills(t *testing.T) {
	o := newTestOrder()
	o.Transition(StateAcked)

	if _, err := o.Fill(30_00000000); err != nil {
		t.Fatal(err)
	}
	// Second partial must not trip the transition table.
	if _, err := o.Fill(30_00000000); err != nil {
		t.Fatalf("second partial fill failed: %v", err)
	}
	if o.State != StatePartiallyFilled {
		t.Errorf("state = %s; want PARTIALLY_FILLED", o.State)
	}
	if o.FilledSats != 60_00000000 || o.RemainingSats != 40_00000000 {
		t.Errorf("filled=%d remaining=%d; want 60/40", o.FilledSats, o.RemainingSats)
	}

	if _, err := o.Fill(40_00000000); err != nil {
		t.Fatal(err)
	}
	if o.State != StateFilled {
		t.Errorf("state = %s; want FILLED", o.State)
	}
}

func TestSide_Signed(t *testing.T) {
	if SideBuy.Signed(5) != 5 {
		t.Error("buy should keep sign")
	}
	if SideSell.Signed(5) != -5 {
		t.Error("sell should negate")
	}
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Error("Opposite mismatch")
	}
}
