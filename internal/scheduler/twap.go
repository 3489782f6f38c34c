package scheduler

import (
	"fmt"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// OrderSlice is one TWAP child order with its scheduled release time.
type OrderSlice struct {
	Symbol      string
	Side        domain.Side
	QtySats     quant.QtySats
	PriceMicros quant.PriceMicros
	ScheduledAt quant.TimeStamp
	Index       int
	Total       int
}

// SplitTrade cuts a planned trade into numSlices child orders evenly spaced
// across [windowStart, windowEnd). Quantity that does not divide evenly goes
// to the earliest slices, one extra sat each, so every sat is scheduled and
// no slice differs from another by more than one.
func SplitTrade(
	trade PlannedTrade,
	numSlices int,
	windowStart, windowEnd quant.TimeStamp,
) ([]OrderSlice, error) {
	if numSlices <= 0 {
		return nil, fmt.Errorf("numSlices must be positive, got %d", numSlices)
	}
	if windowEnd <= windowStart {
		return nil, fmt.Errorf("execution window is empty: [%d, %d)", windowStart, windowEnd)
	}
	if trade.QtySats <= 0 {
		return nil, fmt.Errorf("nothing to slice for %s", trade.Symbol)
	}
	if quant.QtySats(numSlices) > trade.QtySats {
		numSlices = int(trade.QtySats)
	}

	base := trade.QtySats / quant.QtySats(numSlices)
	remainder := trade.QtySats % quant.QtySats(numSlices)
	step := (windowEnd - windowStart) / quant.TimeStamp(numSlices)

	slices := make([]OrderSlice, numSlices)
	for i := range slices {
		qty := base
		if quant.QtySats(i) < remainder {
			qty++
		}
		slices[i] = OrderSlice{
			Symbol:      trade.Symbol,
			Side:        trade.Side,
			QtySats:     qty,
			PriceMicros: trade.PriceMicros,
			ScheduledAt: windowStart + quant.TimeStamp(i)*step,
			Index:       i,
			Total:       numSlices,
		}
	}
	return slices, nil
}

// Due returns the slices scheduled at or before now, preserving order.
func Due(slices []OrderSlice, now quant.TimeStamp) []OrderSlice {
	var due []OrderSlice
	for _, s := range slices {
		if s.ScheduledAt <= now {
			due = append(due, s)
		}
	}
	return due
}
