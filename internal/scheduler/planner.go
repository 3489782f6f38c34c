// Package scheduler turns target portfolios into executable order flow:
// rebalance planning, TWAP slicing, rate-limited submission, and end-of-window
// escalation, with a monitor tracking execution quality.
package scheduler

import (
	"sort"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// PlannedTrade is one leg of a rebalance. QtySats is a magnitude; the
// direction lives in Side.
type PlannedTrade struct {
	Symbol         string
	Side           domain.Side
	QtySats        quant.QtySats
	PriceMicros    quant.PriceMicros
	NotionalMicros int64
}

// Planner diffs current holdings against a target portfolio.
type Planner struct{}

// NewPlanner creates a rebalancing planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// CreatePlan returns the trades that move current to target, largest notional
// first. Symbols absent from target are flattened; symbols absent from
// current are opened. A symbol with no price still plans (notional 0), it
// just sorts by quantity among the unpriced.
func (p *Planner) CreatePlan(
	current, target map[string]quant.QtySats,
	prices map[string]quant.PriceMicros,
) []PlannedTrade {
	symbols := make(map[string]struct{}, len(current)+len(target))
	for sym := range current {
		symbols[sym] = struct{}{}
	}
	for sym := range target {
		symbols[sym] = struct{}{}
	}

	trades := make([]PlannedTrade, 0, len(symbols))
	for sym := range symbols {
		diff := target[sym] - current[sym]
		if diff == 0 {
			continue
		}

		side := domain.SideBuy
		qty := diff
		if diff < 0 {
			side = domain.SideSell
			qty = -diff
		}

		var notional int64
		price := prices[sym]
		if price > 0 {
			n, overflow := quant.NotionalMicros(price, qty)
			if !overflow {
				notional = n
			}
		}

		trades = append(trades, PlannedTrade{
			Symbol:         sym,
			Side:           side,
			QtySats:        qty,
			PriceMicros:    price,
			NotionalMicros: notional,
		})
	}

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].NotionalMicros != trades[j].NotionalMicros {
			return trades[i].NotionalMicros > trades[j].NotionalMicros
		}
		if trades[i].QtySats != trades[j].QtySats {
			return trades[i].QtySats > trades[j].QtySats
		}
		return trades[i].Symbol < trades[j].Symbol
	})
	return trades
}
