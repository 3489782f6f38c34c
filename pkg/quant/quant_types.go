// Package quant defines the fixed-point numeric types the engine computes
// with. Prices, quantities, and timestamps are all int64 at a fixed scale;
// float64 appears only at external API boundaries.
package quant

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

// PriceMicros is a price scaled by 10^6. 1.23 USD = 1_230_000.
type PriceMicros int64

// QtySats is a quantity scaled by 10^8. One whole unit = 100_000_000.
type QtySats int64

// TimeStamp is unix time in microseconds.
type TimeStamp int64

const (
	PriceScale = 1_000_000
	QtyScale   = 100_000_000
)

// ToPriceMicros converts a float price at the API boundary. Everything past
// the boundary stays in micros.
func ToPriceMicros(f float64) PriceMicros {
	return PriceMicros(math.Round(f * PriceScale))
}

// ToQtySats converts a float quantity at the API boundary.
func ToQtySats(f float64) QtySats {
	return QtySats(math.Round(f * QtyScale))
}

func (p PriceMicros) String() string {
	return fmt.Sprintf("%.6f", float64(p)/PriceScale)
}

func (q QtySats) String() string {
	return fmt.Sprintf("%.8f", float64(q)/QtyScale)
}

// NextSeq atomically advances and returns a sequence counter.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseTimeStamp parses a millisecond unix time string into micros.
func ParseTimeStamp(s string) (TimeStamp, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TimeStamp(ms * 1000), nil
}

// ToPriceMicrosStr parses a decimal string straight into micros. No float64
// round trip, so "0.000001" is exactly 1.
func ToPriceMicrosStr(s string) PriceMicros {
	return PriceMicros(parseFixedPoint(s, 6))
}

// ToQtySatsStr parses a decimal string straight into sats.
func ToQtySatsStr(s string) QtySats {
	return QtySats(parseFixedPoint(s, 8))
}

// parseFixedPoint parses "123.456" into an int64 scaled by 10^digits,
// truncating extra fractional digits. Unparseable input reads as zero, the
// same convention venues use for absent fields.
func parseFixedPoint(s string, digits int) int64 {
	if s == "" || s == "null" {
		return 0
	}

	intStr, fracStr, _ := strings.Cut(s, ".")
	whole, _ := strconv.ParseInt(intStr, 10, 64)
	for i := 0; i < digits; i++ {
		whole *= 10
	}

	if len(fracStr) > digits {
		fracStr = fracStr[:digits]
	}
	frac, _ := strconv.ParseInt(fracStr, 10, 64)
	for i := len(fracStr); i < digits; i++ {
		frac *= 10
	}

	if strings.HasPrefix(intStr, "-") {
		return whole - frac
	}
	return whole + frac
}
