package domain

import (
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Trade is one match event between a buy and a sell order.
// Price is the matched price (the resting order's price under price-time
// priority), not either order's limit.
type Trade struct {
	ID          string
	Symbol      string
	PriceMicros quant.PriceMicros
	QtySats     quant.QtySats
	BuyOrderID  uint64
	SellOrderID uint64
	TsUnixM     quant.TimeStamp
}

// Fill is the engine's view of a single execution against one order.
type Fill struct {
	OrderID     uint64
	Symbol      string
	Side        Side
	PriceMicros quant.PriceMicros
	QtySats     quant.QtySats
	TsUnixM     quant.TimeStamp
}

// Notional returns the fill's value in micros.
func (f Fill) Notional() int64 {
	n, overflow := quant.NotionalMicros(f.PriceMicros, f.QtySats)
	if overflow {
		panic("FILL_NOTIONAL_OVERFLOW")
	}
	return n
}
