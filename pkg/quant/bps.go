package quant

import (
	"math/bits"
)

// BpsScale is the denominator for basis-point arithmetic (100% == 10,000 bps).
const BpsScale = 10000

// ApplyBps scales a price by (1 + bps/10000). Negative bps scale down.
// E.g., ApplyBps(100_000000, 50) = 100.5 in micros.
func ApplyBps(p PriceMicros, bps int64) PriceMicros {
	v, ok := mulDiv(int64(p), BpsScale+bps, BpsScale)
	if !ok {
		panic("QUANT_APPLY_BPS_OVERFLOW")
	}
	return PriceMicros(v)
}

// FractionBps returns value * bps / 10000, used for volume caps and thresholds.
func FractionBps(value int64, bps int64) int64 {
	v, ok := mulDiv(value, bps, BpsScale)
	if !ok {
		panic("QUANT_FRACTION_BPS_OVERFLOW")
	}
	return v
}

// RatioBps expresses part/whole in basis points. Used for returns and
// completion ratios.
func RatioBps(part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	v, ok := mulDiv(part, BpsScale, whole)
	if !ok {
		panic("QUANT_RATIO_BPS_OVERFLOW")
	}
	return v
}

// NotionalMicros returns price*qty collapsed back to micros (qty carries the
// 1e8 sats scale). The bool reports overflow; callers treat overflow as a
// limit breach rather than a panic.
func NotionalMicros(p PriceMicros, q QtySats) (int64, bool) {
	v, ok := mulDiv(int64(p), int64(q), QtyScale)
	if !ok {
		return 0, true
	}
	return v, false
}

// PriceFromNotional recovers a per-unit price in micros from a notional and
// a positive quantity. Used for weighted average entry prices.
func PriceFromNotional(notional int64, q QtySats) PriceMicros {
	if q <= 0 {
		panic("QUANT_PRICE_FROM_NOTIONAL_QTY")
	}
	v, ok := mulDiv(notional, QtyScale, int64(q))
	if !ok {
		panic("QUANT_PRICE_FROM_NOTIONAL_OVERFLOW")
	}
	return PriceMicros(v)
}

// mulDiv computes a*b/div through a 128-bit intermediate so price*qty
// products cannot silently wrap. Returns ok=false when the final quotient
// does not fit in int64.
func mulDiv(a, b, div int64) (int64, bool) {
	if div <= 0 {
		return 0, false
	}
	neg := false
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		neg = !neg
		ua = uint64(-a)
	}
	if b < 0 {
		neg = !neg
		ub = uint64(-b)
	}
	hi, lo := bits.Mul64(ua, ub)
	if hi >= uint64(div) {
		return 0, false
	}
	quo, _ := bits.Div64(hi, lo, uint64(div))
	if quo > uint64(1<<63-1) {
		return 0, false
	}
	if neg {
		return -int64(quo), true
	}
	return int64(quo), true
}
