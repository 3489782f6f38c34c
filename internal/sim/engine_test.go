package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

func testBar() domain.Bar {
	return domain.Bar{
		Symbol:      "AAPL",
		TsUnixM:     1704067200_000000,
		OpenMicros:  100_000000,
		HighMicros:  102_000000,
		LowMicros:   99_000000,
		CloseMicros: 101_000000,
		VolumeSats:  1000_00000000,
		VWAPMicros:  100_500000,
	}
}

func ackedOrder(side domain.Side, qty int64) *domain.Order {
	o := domain.NewOrder(1, "AAPL", side, domain.TypeMarket, 0, quant.QtySats(qty), 0)
	o.Transition(domain.StateAcked)
	return o
}

func TestEngine_NoBarIsRejection(t *testing.T) {
	e := NewEngine(Config{Rule: PriceClose, MaxVolumeBps: 1000})
	o := ackedOrder(domain.SideBuy, 10_00000000)

	res := e.Match(o)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, domain.StateAcked, o.State, "rejection must not mutate the order")
	assert.Zero(t, o.FilledSats)
}

func TestEngine_NonFillableStateIsRejection(t *testing.T) {
	e := NewEngine(Config{Rule: PriceClose, MaxVolumeBps: 1000})
	e.SetBar(testBar())

	o := domain.NewOrder(1, "AAPL", domain.SideBuy, domain.TypeMarket, 0, 10_00000000, 0)
	res := e.Match(o) // still NEW
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, domain.StateNew, o.State)
}

func TestEngine_VolumeCap(t *testing.T) {
	// 10% of 1000 = 100 max per bar.
	e := NewEngine(Config{Rule: PriceClose, MaxVolumeBps: 1000})
	e.SetBar(testBar())

	o := ackedOrder(domain.SideBuy, 250_00000000)
	res := e.Match(o)

	require.Equal(t, StatusPartiallyFilled, res.Status)
	assert.Equal(t, quant.QtySats(100_00000000), res.Fill.QtySats)
	assert.Equal(t, quant.QtySats(150_00000000), o.RemainingSats)

	// Small order fills completely.
	o2 := ackedOrder(domain.SideSell, 50_00000000)
	o2.ID = 2
	res2 := e.Match(o2)
	require.Equal(t, StatusFilled, res2.Status)
	assert.Equal(t, quant.QtySats(50_00000000), res2.Fill.QtySats)
}

func TestEngine_SlippageSign(t *testing.T) {
	e := NewEngine(Config{Rule: PriceClose, MaxVolumeBps: 10000, SlippageBps: 10})
	e.SetBar(testBar())

	buy := e.Match(ackedOrder(domain.SideBuy, 10_00000000))
	require.Equal(t, StatusFilled, buy.Status)
	assert.Greater(t, int64(buy.Fill.PriceMicros), int64(101_000000), "buy pays up")
	assert.Equal(t, quant.PriceMicros(101_101000), buy.Fill.PriceMicros)

	sell := e.Match(ackedOrder(domain.SideSell, 10_00000000))
	require.Equal(t, StatusFilled, sell.Status)
	assert.Less(t, int64(sell.Fill.PriceMicros), int64(101_000000), "sell gives up")
	assert.Equal(t, quant.PriceMicros(100_899000), sell.Fill.PriceMicros)
}

func TestEngine_PriceRules(t *testing.T) {
	bar := testBar()

	tests := []struct {
		name string
		rule PriceRule
		vwap quant.PriceMicros
		want quant.PriceMicros
	}{
		{"open", PriceOpen, bar.VWAPMicros, 100_000000},
		{"close", PriceClose, bar.VWAPMicros, 101_000000},
		{"vwap", PriceVWAP, bar.VWAPMicros, 100_500000},
		{"vwap falls back to close", PriceVWAP, 0, 101_000000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(Config{Rule: tt.rule, MaxVolumeBps: 10000})
			b := bar
			b.VWAPMicros = tt.vwap
			e.SetBar(b)

			res := e.Match(ackedOrder(domain.SideBuy, 1_00000000))
			require.Equal(t, StatusFilled, res.Status)
			assert.Equal(t, tt.want, res.Fill.PriceMicros)
		})
	}
}
