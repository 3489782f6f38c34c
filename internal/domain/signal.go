package domain

import (
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Action is a strategy intent.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal is the opaque trading intent produced by a strategy. The core
// validates it, turns it into an Order and routes it to a matching engine.
type Signal struct {
	Action      Action
	Symbol      string
	PriceMicros quant.PriceMicros
	QtySats     quant.QtySats
	TsUnixM     quant.TimeStamp
}

// Side maps the action onto an order side. HOLD has no side.
func (s Signal) OrderSide() (Side, bool) {
	switch s.Action {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return "", false
	}
}
