package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

const t0 = quant.TimeStamp(1704067200_000000)

func noPositions() map[string]quant.QtySats  { return map[string]quant.QtySats{} }
func noPrices() map[string]quant.PriceMicros { return map[string]quant.PriceMicros{} }

func TestValidator_GlobalRateLimitAndWindowRoll(t *testing.T) {
	v := NewValidator(RiskConfig{MaxOrdersPerMinute: 3})

	for i := 0; i < 3; i++ {
		rej := v.Validate("AAPL", domain.SideBuy, 1_00000000, 100_000000,
			1_000_000_000000, noPositions(), noPrices(), t0)
		require.Nil(t, rej, "order %d should pass", i)
		v.RecordOrder("AAPL", t0)
	}

	rej := v.Validate("AAPL", domain.SideBuy, 1_00000000, 100_000000,
		1_000_000_000000, noPositions(), noPrices(), t0+1)
	require.NotNil(t, rej)
	assert.Equal(t, RejectRateLimit, rej.Code)

	// Window rolls: 60s after the submissions the slots free up.
	later := t0 + rateWindowMicros + 1
	rej = v.Validate("AAPL", domain.SideBuy, 1_00000000, 100_000000,
		1_000_000_000000, noPositions(), noPrices(), later)
	assert.Nil(t, rej)
}

func TestValidator_PerSymbolRateLimit(t *testing.T) {
	v := NewValidator(RiskConfig{
		MaxOrdersPerMinute:          10,
		MaxOrdersPerSymbolPerMinute: 2,
	})

	v.RecordOrder("AAPL", t0)
	v.RecordOrder("AAPL", t0)

	rej := v.Validate("AAPL", domain.SideSell, 1_00000000, 100_000000,
		0, noPositions(), noPrices(), t0+1)
	require.NotNil(t, rej)
	assert.Equal(t, RejectSymbolRateLimit, rej.Code)

	// A different symbol is unaffected.
	rej = v.Validate("MSFT", domain.SideSell, 1_00000000, 100_000000,
		0, noPositions(), noPrices(), t0+1)
	assert.Nil(t, rej)
}

func TestValidator_CapitalCheckBuysOnly(t *testing.T) {
	v := NewValidator(RiskConfig{MinCashBufferMicros: 100_000000})

	// 10 shares at 100.00 needs 1000.00; cash 1000.00 minus buffer leaves 900.
	rej := v.Validate("AAPL", domain.SideBuy, 10_00000000, 100_000000,
		1_000_000000, noPositions(), noPrices(), t0)
	require.NotNil(t, rej)
	assert.Equal(t, RejectInsufficientCash, rej.Code)

	// Sells never consume cash.
	rej = v.Validate("AAPL", domain.SideSell, 10_00000000, 100_000000,
		1_000_000000, noPositions(), noPrices(), t0)
	assert.Nil(t, rej)

	// Exactly affordable after buffer passes.
	rej = v.Validate("AAPL", domain.SideBuy, 9_00000000, 100_000000,
		1_000_000000, noPositions(), noPrices(), t0)
	assert.Nil(t, rej)
}

func TestValidator_PositionLimitsOnResultingPosition(t *testing.T) {
	v := NewValidator(RiskConfig{MaxPositionSats: 10_00000000})
	positions := map[string]quant.QtySats{"AAPL": 8_00000000}

	rej := v.Validate("AAPL", domain.SideBuy, 3_00000000, 100_000000,
		1_000_000_000000, positions, noPrices(), t0)
	require.NotNil(t, rej)
	assert.Equal(t, RejectPositionSize, rej.Code)

	// Reducing the position is always within the size limit.
	rej = v.Validate("AAPL", domain.SideSell, 3_00000000, 100_000000,
		1_000_000_000000, positions, noPrices(), t0)
	assert.Nil(t, rej)

	// Shorts count by magnitude.
	rej = v.Validate("AAPL", domain.SideSell, 20_00000000, 100_000000,
		1_000_000_000000, positions, noPrices(), t0)
	require.NotNil(t, rej)
	assert.Equal(t, RejectPositionSize, rej.Code)
}

func TestValidator_PositionValueUsesMarkPrice(t *testing.T) {
	v := NewValidator(RiskConfig{MaxPositionValueMicros: 1_000_000000})
	prices := map[string]quant.PriceMicros{"AAPL": 200_000000}

	// 6 shares at mark 200.00 = 1200.00 > 1000.00 cap, even though the
	// limit price would put it under.
	rej := v.Validate("AAPL", domain.SideBuy, 6_00000000, 100_000000,
		1_000_000_000000, noPositions(), prices, t0)
	require.NotNil(t, rej)
	assert.Equal(t, RejectPositionValue, rej.Code)

	rej = v.Validate("AAPL", domain.SideBuy, 5_00000000, 100_000000,
		1_000_000_000000, noPositions(), prices, t0)
	assert.Nil(t, rej)
}

func TestValidator_TotalExposure(t *testing.T) {
	v := NewValidator(RiskConfig{MaxTotalExposureMicros: 2_000_000000})
	positions := map[string]quant.QtySats{
		"AAPL": 10_00000000,
		"MSFT": -5_00000000,
	}
	prices := map[string]quant.PriceMicros{
		"AAPL": 100_000000, // 1000.00 long
		"MSFT": 100_000000, // 500.00 short, counts by magnitude
	}

	// Existing exposure 1500.00; buying 600.00 more breaches 2000.00.
	rej := v.Validate("GOOG", domain.SideBuy, 6_00000000, 100_000000,
		1_000_000_000000, positions, prices, t0)
	require.NotNil(t, rej)
	assert.Equal(t, RejectTotalExposure, rej.Code)

	rej = v.Validate("GOOG", domain.SideBuy, 5_00000000, 100_000000,
		1_000_000_000000, positions, prices, t0)
	assert.Nil(t, rej)
}

func TestValidator_ChecksShortCircuitInOrder(t *testing.T) {
	// Everything would fail; rate limit must win because it runs first.
	v := NewValidator(RiskConfig{
		MaxOrdersPerMinute:  1,
		MaxPositionSats:     1,
		MinCashBufferMicros: 1 << 40,
	})
	v.RecordOrder("AAPL", t0)

	rej := v.Validate("AAPL", domain.SideBuy, 100_00000000, 100_000000,
		0, noPositions(), noPrices(), t0+1)
	require.NotNil(t, rej)
	assert.Equal(t, RejectRateLimit, rej.Code)
}

func TestValidator_RejectionDoesNotConsumeRateSlot(t *testing.T) {
	v := NewValidator(RiskConfig{
		MaxOrdersPerMinute:  5,
		MinCashBufferMicros: 1 << 40,
	})

	// Repeated rejections never exhaust the window because only
	// RecordOrder counts.
	for i := 0; i < 10; i++ {
		rej := v.Validate("AAPL", domain.SideBuy, 1_00000000, 100_000000,
			0, noPositions(), noPrices(), t0+quant.TimeStamp(i))
		require.NotNil(t, rej)
		assert.Equal(t, RejectInsufficientCash, rej.Code)
	}

	rej := v.Validate("AAPL", domain.SideSell, 1_00000000, 100_000000,
		0, noPositions(), noPrices(), t0+100)
	assert.Nil(t, rej)
}
