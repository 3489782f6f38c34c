package risk

import (
	"log/slog"
	"sort"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// StopType distinguishes fixed from trailing stops.
type StopType string

const (
	StopFixed    StopType = "FIXED"
	StopTrailing StopType = "TRAILING"
)

// Exit reasons carried on generated exit signals.
const (
	ReasonStopLoss       = "stop_loss"
	ReasonTrailingStop   = "trailing_stop"
	ReasonCircuitBreaker = "circuit_breaker"
)

// PositionStop tracks the protective level for one open position. For longs
// the trailing anchor is HighestMicros, for shorts LowestMicros. The stop
// level only ever ratchets in the position's favor.
type PositionStop struct {
	Symbol        string
	QtySats       quant.QtySats // signed, negative for shorts
	EntryMicros   quant.PriceMicros
	StopMicros    quant.PriceMicros
	HighestMicros quant.PriceMicros
	LowestMicros  quant.PriceMicros
	Type          StopType
}

// ExitSignal instructs the caller to flatten a position. Exits generated here
// bypass pre-trade validation; getting out is never blocked by limits.
type ExitSignal struct {
	Symbol        string
	Side          domain.Side
	QtySats       quant.QtySats // magnitude
	Reason        string
	TriggerMicros quant.PriceMicros
	StopMicros    quant.PriceMicros
}

// Manager owns post-trade protection: per-position stops and the portfolio
// circuit breaker. It is not safe for concurrent use; the sequencer is the
// only caller.
type Manager struct {
	cfg    StopLossConfig
	logger *slog.Logger

	stops map[string]*PositionStop

	sessionStartMicros int64
	highWaterMicros    int64
	breakerTripped     bool
}

// NewManager creates a risk manager. The breaker starts armed, not tripped.
func NewManager(cfg StopLossConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		stops:  make(map[string]*PositionStop),
	}
}

// StartSession records the session's starting portfolio value and seeds the
// high-water mark. A tripped breaker stays tripped across sessions; only
// ResetCircuitBreaker clears it.
func (m *Manager) StartSession(portfolioValueMicros int64) {
	m.sessionStartMicros = portfolioValueMicros
	if portfolioValueMicros > m.highWaterMicros {
		m.highWaterMicros = portfolioValueMicros
	}
}

// AddPositionStop registers a protective stop for a freshly opened position.
// qty is signed. With trailing stops enabled the stop trails the favorable
// extreme, otherwise it is fixed off the entry price.
func (m *Manager) AddPositionStop(symbol string, entry quant.PriceMicros, qty quant.QtySats) {
	stopType := StopFixed
	bps := m.cfg.PositionStopBps
	if m.cfg.UseTrailingStops {
		stopType = StopTrailing
		bps = m.cfg.TrailingStopBps
	}
	if bps <= 0 {
		return // stops disabled
	}

	s := &PositionStop{
		Symbol:        symbol,
		QtySats:       qty,
		EntryMicros:   entry,
		HighestMicros: entry,
		LowestMicros:  entry,
		Type:          stopType,
	}
	if qty >= 0 {
		s.StopMicros = quant.ApplyBps(entry, -bps)
	} else {
		s.StopMicros = quant.ApplyBps(entry, bps)
	}
	m.stops[symbol] = s

	m.logger.Info("position stop armed",
		"symbol", symbol,
		"type", string(stopType),
		"entry", int64(entry),
		"stop", int64(s.StopMicros))
}

// RemoveStop drops the stop for a position closed by other means.
func (m *Manager) RemoveStop(symbol string) {
	delete(m.stops, symbol)
}

// Stop returns a copy of the active stop for symbol, if any.
func (m *Manager) Stop(symbol string) (PositionStop, bool) {
	s, ok := m.stops[symbol]
	if !ok {
		return PositionStop{}, false
	}
	return *s, true
}

// CircuitBreakerTripped reports whether the breaker is latched.
func (m *Manager) CircuitBreakerTripped() bool {
	return m.breakerTripped
}

// ResetCircuitBreaker clears the latch. Operator action only.
func (m *Manager) ResetCircuitBreaker() {
	if m.breakerTripped {
		m.logger.Warn("circuit breaker manually reset")
	}
	m.breakerTripped = false
}

// CheckStops runs every tick, before strategy signals are considered. The
// breaker is evaluated first: once tripped it flattens everything and the
// stop logic is skipped. Otherwise trailing anchors ratchet and any breached
// stop emits one exit and is removed. Output order is sorted by symbol so
// identical inputs yield identical exits.
func (m *Manager) CheckStops(
	prices map[string]quant.PriceMicros,
	portfolioValueMicros int64,
	positions map[string]quant.QtySats,
) []ExitSignal {
	if m.checkBreaker(portfolioValueMicros) {
		return m.flattenAll(prices, positions)
	}

	symbols := make([]string, 0, len(m.stops))
	for sym := range m.stops {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var exits []ExitSignal
	for _, sym := range symbols {
		s := m.stops[sym]
		price, ok := prices[sym]
		if !ok || price <= 0 {
			continue
		}

		if s.Type == StopTrailing {
			m.ratchet(s, price)
		}

		long := s.QtySats >= 0
		triggered := (long && price <= s.StopMicros) || (!long && price >= s.StopMicros)
		if !triggered {
			continue
		}

		reason := ReasonStopLoss
		if s.Type == StopTrailing {
			reason = ReasonTrailingStop
		}
		exits = append(exits, ExitSignal{
			Symbol:        sym,
			Side:          exitSide(s.QtySats),
			QtySats:       absSats(s.QtySats),
			Reason:        reason,
			TriggerMicros: price,
			StopMicros:    s.StopMicros,
		})
		delete(m.stops, sym)

		m.logger.Warn("stop triggered",
			"symbol", sym,
			"reason", reason,
			"price", int64(price),
			"stop", int64(s.StopMicros))
	}
	return exits
}

// ratchet moves the trailing anchor and, when the anchor improves, the stop.
// The stop never loosens.
func (m *Manager) ratchet(s *PositionStop, price quant.PriceMicros) {
	if s.QtySats >= 0 {
		if price > s.HighestMicros {
			s.HighestMicros = price
			if stop := quant.ApplyBps(price, -m.cfg.TrailingStopBps); stop > s.StopMicros {
				s.StopMicros = stop
			}
		}
		return
	}
	if price < s.LowestMicros {
		s.LowestMicros = price
		if stop := quant.ApplyBps(price, m.cfg.TrailingStopBps); stop < s.StopMicros {
			s.StopMicros = stop
		}
	}
}

// checkBreaker updates the high-water mark and evaluates both thresholds.
// Loss exactly equal to a threshold trips; thresholds compare in micros, so
// no rounding can shave the boundary. Returns the latched state.
func (m *Manager) checkBreaker(valueMicros int64) bool {
	if !m.cfg.EnableCircuitBreaker {
		return false
	}
	if m.breakerTripped {
		return true
	}
	if valueMicros > m.highWaterMicros {
		m.highWaterMicros = valueMicros
	}

	if m.cfg.PortfolioStopBps > 0 && m.sessionStartMicros > 0 {
		loss := m.sessionStartMicros - valueMicros
		if loss >= quant.FractionBps(m.sessionStartMicros, m.cfg.PortfolioStopBps) {
			m.trip("session loss limit", loss, m.sessionStartMicros)
			return true
		}
	}
	if m.cfg.MaxDrawdownBps > 0 && m.highWaterMicros > 0 {
		drawdown := m.highWaterMicros - valueMicros
		if drawdown >= quant.FractionBps(m.highWaterMicros, m.cfg.MaxDrawdownBps) {
			m.trip("max drawdown", drawdown, m.highWaterMicros)
			return true
		}
	}
	return false
}

func (m *Manager) trip(cause string, lossMicros, baseMicros int64) {
	m.breakerTripped = true
	m.logger.Error("circuit breaker tripped, flattening all positions",
		"cause", cause,
		"loss_micros", lossMicros,
		"base_micros", baseMicros)
}

// flattenAll emits exits for every open position and drops all stops.
func (m *Manager) flattenAll(
	prices map[string]quant.PriceMicros,
	positions map[string]quant.QtySats,
) []ExitSignal {
	symbols := make([]string, 0, len(positions))
	for sym, qty := range positions {
		if qty != 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	exits := make([]ExitSignal, 0, len(symbols))
	for _, sym := range symbols {
		qty := positions[sym]
		exits = append(exits, ExitSignal{
			Symbol:        sym,
			Side:          exitSide(qty),
			QtySats:       absSats(qty),
			Reason:        ReasonCircuitBreaker,
			TriggerMicros: prices[sym],
		})
		delete(m.stops, sym)
	}
	return exits
}

func exitSide(qty quant.QtySats) domain.Side {
	if qty >= 0 {
		return domain.SideSell
	}
	return domain.SideBuy
}
