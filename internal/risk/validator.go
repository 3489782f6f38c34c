package risk

import (
	"fmt"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// rateWindowMicros is the sliding window for order rate limits (60s).
const rateWindowMicros = quant.TimeStamp(60_000_000)

// RejectCode identifies which pre-trade check failed.
type RejectCode string

const (
	RejectRateLimit        RejectCode = "RATE_LIMIT"
	RejectSymbolRateLimit  RejectCode = "SYMBOL_RATE_LIMIT"
	RejectInsufficientCash RejectCode = "INSUFFICIENT_CASH"
	RejectPositionSize     RejectCode = "POSITION_SIZE"
	RejectPositionValue    RejectCode = "POSITION_VALUE"
	RejectTotalExposure    RejectCode = "TOTAL_EXPOSURE"
)

// Rejection is a structured pre-trade refusal. It is a value, not an error:
// the caller decides whether to retry, and no state was mutated.
type Rejection struct {
	Code    RejectCode
	Message string
}

// Validator is the pre-trade gate. Checks run in fixed order and
// short-circuit on the first failure: rate limits, capital, position limits,
// total exposure. Rate counters reflect actual submissions, so RecordOrder
// must be called only after the broker accepted the order.
type Validator struct {
	cfg       RiskConfig
	global    []quant.TimeStamp
	perSymbol map[string][]quant.TimeStamp
}

// NewValidator creates a validator with the given limits.
func NewValidator(cfg RiskConfig) *Validator {
	return &Validator{
		cfg:       cfg,
		perSymbol: make(map[string][]quant.TimeStamp),
	}
}

// Validate runs the four checks. A nil result means the order may be
// submitted.
func (v *Validator) Validate(
	symbol string,
	side domain.Side,
	qty quant.QtySats,
	price quant.PriceMicros,
	cashMicros int64,
	positions map[string]quant.QtySats,
	prices map[string]quant.PriceMicros,
	now quant.TimeStamp,
) *Rejection {
	// 1. Rate limits, global then per-symbol.
	v.global = pruneWindow(v.global, now)
	if v.cfg.MaxOrdersPerMinute > 0 && len(v.global) >= v.cfg.MaxOrdersPerMinute {
		return &Rejection{
			Code:    RejectRateLimit,
			Message: fmt.Sprintf("global order rate limit reached (%d/min)", v.cfg.MaxOrdersPerMinute),
		}
	}
	v.perSymbol[symbol] = pruneWindow(v.perSymbol[symbol], now)
	if v.cfg.MaxOrdersPerSymbolPerMinute > 0 && len(v.perSymbol[symbol]) >= v.cfg.MaxOrdersPerSymbolPerMinute {
		return &Rejection{
			Code:    RejectSymbolRateLimit,
			Message: fmt.Sprintf("%s order rate limit reached (%d/min)", symbol, v.cfg.MaxOrdersPerSymbolPerMinute),
		}
	}

	notional, overflow := quant.NotionalMicros(price, qty)
	if overflow {
		return &Rejection{Code: RejectPositionValue, Message: "order notional overflows"}
	}

	// 2. Capital sufficiency, buys only.
	if side == domain.SideBuy {
		available := cashMicros - v.cfg.MinCashBufferMicros
		if notional > available {
			return &Rejection{
				Code:    RejectInsufficientCash,
				Message: fmt.Sprintf("need %d micros, available %d after buffer", notional, available),
			}
		}
	}

	// 3. Position limits on the resulting signed position.
	resulting := positions[symbol] + side.Signed(qty)
	if v.cfg.MaxPositionSats > 0 && absSats(resulting) > v.cfg.MaxPositionSats {
		return &Rejection{
			Code:    RejectPositionSize,
			Message: fmt.Sprintf("resulting position %d exceeds max %d", resulting, v.cfg.MaxPositionSats),
		}
	}
	if v.cfg.MaxPositionValueMicros > 0 {
		markPrice := price
		if p, ok := prices[symbol]; ok && p > 0 {
			markPrice = p
		}
		value, overflow := quant.NotionalMicros(markPrice, absSats(resulting))
		if overflow || value > v.cfg.MaxPositionValueMicros {
			return &Rejection{
				Code:    RejectPositionValue,
				Message: fmt.Sprintf("resulting position value %d exceeds max %d", value, v.cfg.MaxPositionValueMicros),
			}
		}
	}

	// 4. Total exposure across all symbols, plus this order's buy-side add.
	if v.cfg.MaxTotalExposureMicros > 0 {
		exposure := int64(0)
		for sym, pos := range positions {
			if pos == 0 {
				continue
			}
			p, ok := prices[sym]
			if !ok {
				continue
			}
			value, overflow := quant.NotionalMicros(p, absSats(pos))
			if overflow {
				return &Rejection{Code: RejectTotalExposure, Message: "exposure overflows"}
			}
			exposure += value
		}
		if side == domain.SideBuy {
			exposure += notional
		}
		if exposure > v.cfg.MaxTotalExposureMicros {
			return &Rejection{
				Code:    RejectTotalExposure,
				Message: fmt.Sprintf("total exposure %d exceeds max %d", exposure, v.cfg.MaxTotalExposureMicros),
			}
		}
	}

	return nil
}

// RecordOrder counts one submitted order against both windows. Call only
// after successful broker submission.
func (v *Validator) RecordOrder(symbol string, now quant.TimeStamp) {
	v.global = append(pruneWindow(v.global, now), now)
	v.perSymbol[symbol] = append(pruneWindow(v.perSymbol[symbol], now), now)
}

// pruneWindow drops timestamps outside the sliding window. Entries arrive in
// order, so a single scan from the front suffices.
func pruneWindow(window []quant.TimeStamp, now quant.TimeStamp) []quant.TimeStamp {
	cutoff := now - rateWindowMicros
	i := 0
	for i < len(window) && window[i] <= cutoff {
		i++
	}
	return window[i:]
}

func absSats(q quant.QtySats) quant.QtySats {
	if q < 0 {
		return -q
	}
	return q
}
