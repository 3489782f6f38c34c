package risk

import (
	"fmt"

	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// RiskConfig bounds pre-trade order flow. A zero value disables the
// corresponding check.
type RiskConfig struct {
	MaxPositionSats             quant.QtySats `yaml:"max_position_sats"`
	MaxPositionValueMicros      int64         `yaml:"max_position_value_micros"`
	MaxTotalExposureMicros      int64         `yaml:"max_total_exposure_micros"`
	MaxOrdersPerMinute          int           `yaml:"max_orders_per_minute"`
	MaxOrdersPerSymbolPerMinute int           `yaml:"max_orders_per_symbol_per_minute"`
	MinCashBufferMicros         int64         `yaml:"min_cash_buffer_micros"`
}

// StopLossConfig drives post-trade stops and the portfolio circuit breaker.
// Percentages are basis points (300 == 3%).
type StopLossConfig struct {
	PositionStopBps      int64 `yaml:"position_stop_bps"`
	TrailingStopBps      int64 `yaml:"trailing_stop_bps"`
	PortfolioStopBps     int64 `yaml:"portfolio_stop_bps"`
	MaxDrawdownBps       int64 `yaml:"max_drawdown_bps"`
	UseTrailingStops     bool  `yaml:"use_trailing_stops"`
	EnableCircuitBreaker bool  `yaml:"enable_circuit_breaker"`
}

// Validate rejects configurations that would silently disable protection.
func (c StopLossConfig) Validate() error {
	if c.PositionStopBps < 0 || c.TrailingStopBps < 0 {
		return fmt.Errorf("stop percentages must be non-negative")
	}
	if c.UseTrailingStops && c.TrailingStopBps == 0 {
		return fmt.Errorf("trailing stops enabled but trailing_stop_bps is 0")
	}
	if c.EnableCircuitBreaker && c.PortfolioStopBps == 0 && c.MaxDrawdownBps == 0 {
		return fmt.Errorf("circuit breaker enabled but both thresholds are 0")
	}
	return nil
}
