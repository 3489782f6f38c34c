package domain

import (
	"errors"
	"fmt"

	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// ErrIllegalTransition marks a state-machine edge that is not allowed.
// Callers can assert on it with errors.Is.
var ErrIllegalTransition = errors.New("illegal order state transition")

// Side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side, used when flattening a position.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signed applies the side's sign to a quantity. Position and cash deltas are
// always computed through this helper, never from an enum's numeric value.
func (s Side) Signed(q quant.QtySats) quant.QtySats {
	if s == SideSell {
		return -q
	}
	return q
}

// OrderType distinguishes limit and market orders.
type OrderType string

const (
	TypeLimit  OrderType = "LIMIT"
	TypeMarket OrderType = "MARKET"
)

// OrderState is the lifecycle state of an order.
type OrderState string

const (
	StateNew             OrderState = "NEW"
	StateAcked           OrderState = "ACKED"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateFilled          OrderState = "FILLED"
	StateCanceled        OrderState = "CANCELED"
	StateRejected        OrderState = "REJECTED"
)

// allowedTransitions is the full edge set of the order state machine.
// Everything else fails with ErrIllegalTransition and leaves state unchanged.
var allowedTransitions = map[OrderState][]OrderState{
	StateNew:             {StateAcked, StateRejected},
	StateAcked:           {StatePartiallyFilled, StateFilled, StateCanceled},
	StatePartiallyFilled: {StateFilled, StateCanceled},
}

// Order represents a trading order.
// All monetary values are strictly int64 fixed point.
type Order struct {
	ID            uint64
	Symbol        string
	Side          Side
	Type          OrderType
	PriceMicros   quant.PriceMicros // Limit price. 0 for market orders.
	QtySats       quant.QtySats
	FilledSats    quant.QtySats
	RemainingSats quant.QtySats
	CreatedUnixM  quant.TimeStamp
	State         OrderState
}

// NewOrder creates an order in NEW state with remaining == requested.
func NewOrder(id uint64, symbol string, side Side, typ OrderType, price quant.PriceMicros, qty quant.QtySats, ts quant.TimeStamp) *Order {
	return &Order{
		ID:            id,
		Symbol:        symbol,
		Side:          side,
		Type:          typ,
		PriceMicros:   price,
		QtySats:       qty,
		RemainingSats: qty,
		CreatedUnixM:  ts,
		State:         StateNew,
	}
}

// Transition moves the order to the target state if the edge is allowed.
func (o *Order) Transition(to OrderState) error {
	for _, next := range allowedTransitions[o.State] {
		if next == to {
			o.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (order %d)", ErrIllegalTransition, o.State, to, o.ID)
}

// Fill applies an execution of up to qty against the order and returns the
// quantity actually filled (capped at remaining). Quantities and state change
// together or not at all.
func (o *Order) Fill(qty quant.QtySats) (quant.QtySats, error) {
	if o.State != StateAcked && o.State != StatePartiallyFilled {
		return 0, fmt.Errorf("%w: fill in state %s (order %d)", ErrIllegalTransition, o.State, o.ID)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("fill quantity must be positive, got %d (order %d)", qty, o.ID)
	}

	filled := qty
	if filled > o.RemainingSats {
		filled = o.RemainingSats
	}

	next := StatePartiallyFilled
	if o.RemainingSats-filled == 0 {
		next = StateFilled
	}
	// A second partial keeps the order PARTIALLY_FILLED; only a real edge
	// goes through the transition table.
	if next != o.State {
		if err := o.Transition(next); err != nil {
			return 0, err
		}
	}
	o.FilledSats += filled
	o.RemainingSats -= filled
	return filled, nil
}

// IsOpen checks if the order is still active.
func (o *Order) IsOpen() bool {
	return o.State == StateNew || o.State == StateAcked || o.State == StatePartiallyFilled
}

// IsTerminal reports whether no further transition is possible.
func (o *Order) IsTerminal() bool {
	return o.State == StateFilled || o.State == StateCanceled || o.State == StateRejected
}

// IDGen hands out order ids. One generator is injected per engine so ids
// stay deterministic within a run and never come from process-wide state.
type IDGen struct {
	next uint64
}

// Next returns the next order id.
func (g *IDGen) Next() uint64 {
	return quant.NextSeq(&g.next)
}
