package scheduler

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

var bpsScaleDec = decimal.NewFromInt(quant.BpsScale)

// symbolStats accumulates per-symbol execution quality. Notional and
// quantity run in decimal so VWAP division loses nothing to fixed-point
// truncation before the final report.
type symbolStats struct {
	notional decimal.Decimal // Σ price*qty, price in micros, qty in sats
	quantity decimal.Decimal // Σ qty in sats
	slipNum  decimal.Decimal // Σ signedSlipBps*qty
	fills    int
}

// Monitor tracks realized execution quality against plan: per-symbol
// execution VWAP, market-VWAP comparison, expected-price slippage, and plan
// completion. Read-side methods report false or zero until the first fill.
type Monitor struct {
	stats   map[string]*symbolStats
	planned map[string]quant.QtySats
}

// NewMonitor creates an empty execution monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		stats:   make(map[string]*symbolStats),
		planned: make(map[string]quant.QtySats),
	}
}

// SetPlanned records the quantity the plan intends to execute for symbol.
func (m *Monitor) SetPlanned(symbol string, qty quant.QtySats) {
	m.planned[symbol] = qty
}

// TrackFill folds one fill into the symbol's accumulators. expected is the
// price the plan assumed; zero means no slippage reference for this fill.
// Slippage sign convention: positive is adverse on both sides, so a buy
// above expected and a sell below expected both count against execution.
func (m *Monitor) TrackFill(f domain.Fill, expected quant.PriceMicros) {
	s, ok := m.stats[f.Symbol]
	if !ok {
		s = &symbolStats{}
		m.stats[f.Symbol] = s
	}

	price := decimal.NewFromInt(int64(f.PriceMicros))
	qty := decimal.NewFromInt(int64(f.QtySats))

	s.notional = s.notional.Add(price.Mul(qty))
	s.quantity = s.quantity.Add(qty)
	s.fills++

	if expected > 0 {
		exp := decimal.NewFromInt(int64(expected))
		slipBps := price.Sub(exp).Mul(bpsScaleDec).Div(exp)
		if f.Side == domain.SideSell {
			slipBps = slipBps.Neg()
		}
		s.slipNum = s.slipNum.Add(slipBps.Mul(qty))
	}
}

// ExecutionVWAP returns the quantity-weighted average fill price for symbol.
func (m *Monitor) ExecutionVWAP(symbol string) (quant.PriceMicros, bool) {
	s, ok := m.stats[symbol]
	if !ok || s.quantity.IsZero() {
		return 0, false
	}
	vwap := s.notional.Div(s.quantity)
	return quant.PriceMicros(vwap.Round(0).IntPart()), true
}

// VWAPComparisonBps measures execution VWAP against the market VWAP over the
// same window, in basis points, positive when execution was worse than the
// market. For buys worse means paying above market VWAP; for sells the sign
// flips.
func (m *Monitor) VWAPComparisonBps(symbol string, side domain.Side, marketVWAP quant.PriceMicros) (decimal.Decimal, bool) {
	if marketVWAP <= 0 {
		return decimal.Zero, false
	}
	s, ok := m.stats[symbol]
	if !ok || s.quantity.IsZero() {
		return decimal.Zero, false
	}
	execVWAP := s.notional.Div(s.quantity)
	market := decimal.NewFromInt(int64(marketVWAP))
	diff := execVWAP.Sub(market).Mul(bpsScaleDec).Div(market)
	if side == domain.SideSell {
		diff = diff.Neg()
	}
	return diff, true
}

// SlippageBps returns the quantity-weighted slippage versus expected prices,
// in basis points, positive when adverse.
func (m *Monitor) SlippageBps(symbol string) (decimal.Decimal, bool) {
	s, ok := m.stats[symbol]
	if !ok || s.quantity.IsZero() {
		return decimal.Zero, false
	}
	return s.slipNum.Div(s.quantity), true
}

// FilledQty returns the total executed quantity for symbol.
func (m *Monitor) FilledQty(symbol string) quant.QtySats {
	s, ok := m.stats[symbol]
	if !ok {
		return 0
	}
	return quant.QtySats(s.quantity.IntPart())
}

// CompletionStatus classifies every planned symbol: completed when the full
// planned quantity executed, failed when nothing executed at all, pending
// otherwise. Lists are sorted.
func (m *Monitor) CompletionStatus() (completed, pending, failed []string) {
	for sym, planned := range m.planned {
		filled := m.FilledQty(sym)
		switch {
		case planned <= 0 || filled >= planned:
			completed = append(completed, sym)
		case filled == 0:
			failed = append(failed, sym)
		default:
			pending = append(pending, sym)
		}
	}
	sort.Strings(completed)
	sort.Strings(pending)
	sort.Strings(failed)
	return completed, pending, failed
}

// Reset clears all accumulators for a new session.
func (m *Monitor) Reset() {
	m.stats = make(map[string]*symbolStats)
	m.planned = make(map[string]quant.QtySats)
}
