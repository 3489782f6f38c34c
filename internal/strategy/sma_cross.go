package strategy

import (
	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
	"github.com/dafu-zhu/trading-system-sub000/pkg/safe"
)

// SMACrossStrategy implements a simple SMA Crossover strategy on bar closes.
// It is stateful and deterministic.
// OPTIMIZED: Uses a Ring Buffer to ensure Zero-Alloc in the hotpath.
type SMACrossStrategy struct {
	symbol      string
	shortPeriod int
	longPeriod  int
	orderQty    quant.QtySats

	// State (Ring Buffer)
	prices []int64
	head   int   // Current write position
	count  int   // Number of elements filled
	sum    int64 // Running sum for the longest period (optimization)

	prevShortSMA int64
	prevLongSMA  int64
}

// NewSMACrossStrategy creates a new instance.
func NewSMACrossStrategy(symbol string, shortPeriod, longPeriod int, orderQty quant.QtySats) *SMACrossStrategy {
	if shortPeriod >= longPeriod {
		panic("SMACrossStrategy: shortPeriod must be less than longPeriod")
	}
	return &SMACrossStrategy{
		symbol:      symbol,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		orderQty:    orderQty,
		prices:      make([]int64, longPeriod), // Fixed size allocation
	}
}

// Name identifies the strategy.
func (s *SMACrossStrategy) Name() string {
	return "sma_cross"
}

// OnBar folds the bar close into the ring buffer and emits a signal on a
// cross.
func (s *SMACrossStrategy) OnBar(bar domain.Bar) []domain.Signal {
	// 1. Filter by symbol
	if bar.Symbol != s.symbol {
		return nil
	}

	currentPrice := int64(bar.CloseMicros)

	// 2. Update Price History (Ring Buffer)
	// If full, subtract the oldest value from sum before overwriting
	if s.count == s.longPeriod {
		oldestPrice := s.prices[s.head] // s.head points to the oldest value when full
		s.sum = safe.SafeSub(s.sum, oldestPrice)
	}

	// Add new price
	s.prices[s.head] = currentPrice
	s.sum = safe.SafeAdd(s.sum, currentPrice)

	// Move head
	s.head = (s.head + 1) % s.longPeriod

	// Increment count if not yet full
	if s.count < s.longPeriod {
		s.count++
	}

	// 3. Check if we have enough data
	if s.count < s.longPeriod {
		return nil
	}

	// 4. Calculate SMAs
	// Long SMA is easy: s.sum / s.longPeriod
	currLongSMA := safe.SafeDiv(s.sum, int64(s.longPeriod))

	// Short SMA requires manual calculation over the ring buffer
	currShortSMA := s.calculateShortSMA()

	var signals []domain.Signal

	// 5. Check for Cross
	if s.prevShortSMA != 0 && s.prevLongSMA != 0 {
		// Golden Cross: Short goes above Long -> BUY
		if s.prevShortSMA <= s.prevLongSMA && currShortSMA > currLongSMA {
			signals = append(signals, domain.Signal{
				Action:      domain.ActionBuy,
				Symbol:      s.symbol,
				PriceMicros: bar.CloseMicros,
				QtySats:     s.orderQty,
				TsUnixM:     bar.TsUnixM,
			})
		}

		// Dead Cross: Short goes below Long -> SELL
		if s.prevShortSMA >= s.prevLongSMA && currShortSMA < currLongSMA {
			signals = append(signals, domain.Signal{
				Action:      domain.ActionSell,
				Symbol:      s.symbol,
				PriceMicros: bar.CloseMicros,
				QtySats:     s.orderQty,
				TsUnixM:     bar.TsUnixM,
			})
		}
	}

	// 6. Update State
	s.prevShortSMA = currShortSMA
	s.prevLongSMA = currLongSMA

	return signals
}

// OnOrderUpdate handles order updates. The crossover carries no per-order
// state, so fills are ignored.
func (s *SMACrossStrategy) OnOrderUpdate(order domain.Order) {
}

// calculateShortSMA calculates the SMA for the short period using the ring buffer.
func (s *SMACrossStrategy) calculateShortSMA() int64 {
	var sum int64 = 0
	// Walk backwards from current head (which points to next write slot, so head-1 is latest)
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = safe.SafeAdd(sum, s.prices[idx])
	}
	return safe.SafeDiv(sum, int64(s.shortPeriod))
}
