package risk

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func prices(sym string, p int64) map[string]quant.PriceMicros {
	return map[string]quant.PriceMicros{sym: quant.PriceMicros(p)}
}

// Entry 150.00 with a 3% trail arms at 145.50, ratchets to 155.20 when the
// price reaches 160.00, and fires a full-size sell at 154.00.
func TestManager_TrailingStopLifecycle(t *testing.T) {
	m := NewManager(StopLossConfig{
		TrailingStopBps:  300,
		UseTrailingStops: true,
	}, quietLogger())

	m.AddPositionStop("AAPL", 150_000000, 100_00000000)

	s, ok := m.Stop("AAPL")
	require.True(t, ok)
	assert.Equal(t, quant.PriceMicros(145_500000), s.StopMicros)
	assert.Equal(t, StopTrailing, s.Type)

	positions := map[string]quant.QtySats{"AAPL": 100_00000000}

	exits := m.CheckStops(prices("AAPL", 160_000000), 1_000_000_000000, positions)
	assert.Empty(t, exits)
	s, _ = m.Stop("AAPL")
	assert.Equal(t, quant.PriceMicros(155_200000), s.StopMicros)
	assert.Equal(t, quant.PriceMicros(160_000000), s.HighestMicros)

	// Pullback above the stop neither triggers nor loosens it.
	exits = m.CheckStops(prices("AAPL", 156_000000), 1_000_000_000000, positions)
	assert.Empty(t, exits)
	s, _ = m.Stop("AAPL")
	assert.Equal(t, quant.PriceMicros(155_200000), s.StopMicros)

	exits = m.CheckStops(prices("AAPL", 154_000000), 1_000_000_000000, positions)
	require.Len(t, exits, 1)
	assert.Equal(t, domain.SideSell, exits[0].Side)
	assert.Equal(t, quant.QtySats(100_00000000), exits[0].QtySats)
	assert.Equal(t, ReasonTrailingStop, exits[0].Reason)
	assert.Equal(t, quant.PriceMicros(155_200000), exits[0].StopMicros)

	_, ok = m.Stop("AAPL")
	assert.False(t, ok, "stop is removed once triggered")
}

func TestManager_ShortTrailingStop(t *testing.T) {
	m := NewManager(StopLossConfig{
		TrailingStopBps:  300,
		UseTrailingStops: true,
	}, quietLogger())

	m.AddPositionStop("AAPL", 150_000000, -100_00000000)

	s, ok := m.Stop("AAPL")
	require.True(t, ok)
	assert.Equal(t, quant.PriceMicros(154_500000), s.StopMicros)

	positions := map[string]quant.QtySats{"AAPL": -100_00000000}

	// Price falls, stop trails down: 140 * 1.03 = 144.20.
	exits := m.CheckStops(prices("AAPL", 140_000000), 1_000_000_000000, positions)
	assert.Empty(t, exits)
	s, _ = m.Stop("AAPL")
	assert.Equal(t, quant.PriceMicros(144_200000), s.StopMicros)

	// Touching the stop exactly triggers a buy-to-cover.
	exits = m.CheckStops(prices("AAPL", 144_200000), 1_000_000_000000, positions)
	require.Len(t, exits, 1)
	assert.Equal(t, domain.SideBuy, exits[0].Side)
	assert.Equal(t, quant.QtySats(100_00000000), exits[0].QtySats)
}

func TestManager_FixedStopDoesNotRatchet(t *testing.T) {
	m := NewManager(StopLossConfig{PositionStopBps: 500}, quietLogger())

	m.AddPositionStop("AAPL", 100_000000, 10_00000000)
	s, _ := m.Stop("AAPL")
	assert.Equal(t, quant.PriceMicros(95_000000), s.StopMicros)
	assert.Equal(t, StopFixed, s.Type)

	positions := map[string]quant.QtySats{"AAPL": 10_00000000}

	exits := m.CheckStops(prices("AAPL", 120_000000), 1_000_000_000000, positions)
	assert.Empty(t, exits)
	s, _ = m.Stop("AAPL")
	assert.Equal(t, quant.PriceMicros(95_000000), s.StopMicros, "fixed stop stays put")

	exits = m.CheckStops(prices("AAPL", 95_000000), 1_000_000_000000, positions)
	require.Len(t, exits, 1)
	assert.Equal(t, ReasonStopLoss, exits[0].Reason)
}

// Drawdown exactly at the threshold trips the breaker; one basis point under
// does not.
func TestManager_DrawdownBoundary(t *testing.T) {
	const hwm = 100_000_000000

	t.Run("one bp under holds", func(t *testing.T) {
		m := NewManager(StopLossConfig{
			EnableCircuitBreaker: true,
			MaxDrawdownBps:       500,
		}, quietLogger())
		m.StartSession(hwm)

		value := hwm - quant.FractionBps(hwm, 499)
		exits := m.CheckStops(noPrices(), value, noPositions())
		assert.Empty(t, exits)
		assert.False(t, m.CircuitBreakerTripped())
	})

	t.Run("exactly at threshold trips", func(t *testing.T) {
		m := NewManager(StopLossConfig{
			EnableCircuitBreaker: true,
			MaxDrawdownBps:       500,
		}, quietLogger())
		m.StartSession(hwm)

		value := hwm - quant.FractionBps(hwm, 500)
		m.CheckStops(noPrices(), value, noPositions())
		assert.True(t, m.CircuitBreakerTripped())
	})
}

func TestManager_BreakerFlattensEverythingDeterministically(t *testing.T) {
	m := NewManager(StopLossConfig{
		EnableCircuitBreaker: true,
		MaxDrawdownBps:       500,
		TrailingStopBps:      300,
		UseTrailingStops:     true,
	}, quietLogger())
	m.StartSession(100_000_000000)
	m.AddPositionStop("MSFT", 300_000000, -50_00000000)
	m.AddPositionStop("AAPL", 150_000000, 100_00000000)

	positions := map[string]quant.QtySats{
		"MSFT": -50_00000000,
		"AAPL": 100_00000000,
	}
	px := map[string]quant.PriceMicros{
		"AAPL": 140_000000,
		"MSFT": 310_000000,
	}

	exits := m.CheckStops(px, 94_000_000000, positions)
	require.Len(t, exits, 2)

	// Sorted by symbol regardless of map iteration order.
	assert.Equal(t, "AAPL", exits[0].Symbol)
	assert.Equal(t, domain.SideSell, exits[0].Side)
	assert.Equal(t, "MSFT", exits[1].Symbol)
	assert.Equal(t, domain.SideBuy, exits[1].Side)
	for _, e := range exits {
		assert.Equal(t, ReasonCircuitBreaker, e.Reason)
	}

	_, ok := m.Stop("AAPL")
	assert.False(t, ok, "breaker clears per-position stops")
}

// The breaker latches: recovery does not re-enable trading, only an explicit
// reset does.
func TestManager_BreakerLatchesUntilReset(t *testing.T) {
	m := NewManager(StopLossConfig{
		EnableCircuitBreaker: true,
		MaxDrawdownBps:       500,
	}, quietLogger())
	m.StartSession(100_000_000000)

	m.CheckStops(noPrices(), 90_000_000000, noPositions())
	require.True(t, m.CircuitBreakerTripped())

	// Full recovery changes nothing.
	m.CheckStops(noPrices(), 110_000_000000, noPositions())
	assert.True(t, m.CircuitBreakerTripped())

	m.ResetCircuitBreaker()
	assert.False(t, m.CircuitBreakerTripped())
}

func TestManager_SessionLossLimit(t *testing.T) {
	m := NewManager(StopLossConfig{
		EnableCircuitBreaker: true,
		PortfolioStopBps:     200,
	}, quietLogger())
	m.StartSession(50_000_000000)

	// Down 1.9% holds.
	m.CheckStops(noPrices(), 50_000_000000-quant.FractionBps(50_000_000000, 190), noPositions())
	assert.False(t, m.CircuitBreakerTripped())

	// Down 2.0% trips.
	m.CheckStops(noPrices(), 50_000_000000-quant.FractionBps(50_000_000000, 200), noPositions())
	assert.True(t, m.CircuitBreakerTripped())
}
