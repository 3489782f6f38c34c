package domain

import (
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
	"github.com/dafu-zhu/trading-system-sub000/pkg/safe"
)

// Position represents an open trading position.
// All monetary values are strictly int64.
type Position struct {
	Symbol            string
	QtySats           quant.QtySats     // Positive for Long, Negative for Short.
	AvgEntryMicros    quant.PriceMicros // Weighted Average Entry Price.
	RealizedPnLMicros int64             // Realized Profit/Loss.
}

// IsLong checks if the position is Long.
func (p *Position) IsLong() bool {
	return p.QtySats > 0
}

// IsShort checks if the position is Short.
func (p *Position) IsShort() bool {
	return p.QtySats < 0
}

// Portfolio tracks cash and signed positions. It is owned by the sequencer
// and mutated only on the tick path, so it carries no lock.
type Portfolio struct {
	CashMicros int64
	positions  map[string]*Position
}

// NewPortfolio creates a portfolio with starting cash.
func NewPortfolio(cashMicros int64) *Portfolio {
	return &Portfolio{
		CashMicros: cashMicros,
		positions:  make(map[string]*Position),
	}
}

// Position returns a copy of the open position for a symbol. A position
// closed back to zero reports false; its entry stays in the book for
// realized-PnL accounting.
func (pf *Portfolio) Position(symbol string) (Position, bool) {
	p, ok := pf.positions[symbol]
	if !ok || p.QtySats == 0 {
		return Position{}, false
	}
	return *p, true
}

// Quantities returns the signed quantity per symbol (open positions only).
func (pf *Portfolio) Quantities() map[string]quant.QtySats {
	out := make(map[string]quant.QtySats, len(pf.positions))
	for sym, p := range pf.positions {
		if p.QtySats != 0 {
			out[sym] = p.QtySats
		}
	}
	return out
}

// ApplyFill books a fill: cash moves by the signed notional, the position by
// the signed quantity. Reducing fills realize PnL against the average entry;
// fills that flip through zero open the residual at the fill price.
func (pf *Portfolio) ApplyFill(f Fill) {
	notional := f.Notional()
	if f.Side == SideBuy {
		pf.CashMicros = safe.SafeSub(pf.CashMicros, notional)
	} else {
		pf.CashMicros = safe.SafeAdd(pf.CashMicros, notional)
	}

	p, ok := pf.positions[f.Symbol]
	if !ok {
		p = &Position{Symbol: f.Symbol}
		pf.positions[f.Symbol] = p
	}

	delta := f.Side.Signed(f.QtySats)
	prev := p.QtySats

	switch {
	case prev == 0 || sameSign(prev, delta):
		// Opening or adding: weighted average entry.
		prevNotional, overflow := quant.NotionalMicros(p.AvgEntryMicros, absQty(prev))
		if overflow {
			panic("POSITION_NOTIONAL_OVERFLOW")
		}
		total := safe.SafeAdd(prevNotional, notional)
		p.QtySats += delta
		p.AvgEntryMicros = quant.PriceFromNotional(total, absQty(p.QtySats))

	case absQty(delta) <= absQty(prev):
		// Reducing (or flat close): realize on the closed quantity.
		p.RealizedPnLMicros = safe.SafeAdd(p.RealizedPnLMicros, realized(prev, p.AvgEntryMicros, f.PriceMicros, absQty(delta)))
		p.QtySats += delta
		if p.QtySats == 0 {
			p.AvgEntryMicros = 0
		}

	default:
		// Flip through zero: close everything, open the residual fresh.
		p.RealizedPnLMicros = safe.SafeAdd(p.RealizedPnLMicros, realized(prev, p.AvgEntryMicros, f.PriceMicros, absQty(prev)))
		p.QtySats += delta
		p.AvgEntryMicros = f.PriceMicros
	}
}

// EquityMicros is cash plus the marked value of every open position.
func (pf *Portfolio) EquityMicros(prices map[string]quant.PriceMicros) int64 {
	equity := pf.CashMicros
	for sym, p := range pf.positions {
		if p.QtySats == 0 {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			price = p.AvgEntryMicros
		}
		value, overflow := quant.NotionalMicros(price, p.QtySats)
		if overflow {
			panic("PORTFOLIO_EQUITY_OVERFLOW")
		}
		equity = safe.SafeAdd(equity, value)
	}
	return equity
}

// ExposureMicros sums |quantity| x current price across all open positions.
func (pf *Portfolio) ExposureMicros(prices map[string]quant.PriceMicros) int64 {
	var total int64
	for sym, p := range pf.positions {
		if p.QtySats == 0 {
			continue
		}
		price, ok := prices[sym]
		if !ok {
			price = p.AvgEntryMicros
		}
		value, overflow := quant.NotionalMicros(price, absQty(p.QtySats))
		if overflow {
			panic("PORTFOLIO_EXPOSURE_OVERFLOW")
		}
		total = safe.SafeAdd(total, value)
	}
	return total
}

// realized computes PnL in micros for closing closedQty of a position held
// at avg entry, executed at price. prev carries the position direction.
func realized(prev quant.QtySats, avg, price quant.PriceMicros, closedQty quant.QtySats) int64 {
	diff := int64(price) - int64(avg)
	if prev < 0 {
		diff = -diff
	}
	pnl, overflow := quant.NotionalMicros(quant.PriceMicros(diff), closedQty)
	if overflow {
		panic("POSITION_PNL_OVERFLOW")
	}
	return pnl
}

func sameSign(a, b quant.QtySats) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func absQty(q quant.QtySats) quant.QtySats {
	if q < 0 {
		return -q
	}
	return q
}
