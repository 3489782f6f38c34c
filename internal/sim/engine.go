package sim

import (
	"fmt"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// PriceRule selects the reference price inside the current bar.
type PriceRule string

const (
	PriceOpen  PriceRule = "open"
	PriceClose PriceRule = "close"
	PriceVWAP  PriceRule = "vwap"
)

// Config tunes the deterministic fill model.
type Config struct {
	Rule         PriceRule `yaml:"price_rule"`
	MaxVolumeBps int64     `yaml:"max_volume_bps"` // max fill per bar, in bps of bar volume
	SlippageBps  int64     `yaml:"slippage_bps"`
}

// DefaultConfig fills conservatively: close price, 10% of bar volume, 5 bps.
func DefaultConfig() Config {
	return Config{Rule: PriceClose, MaxVolumeBps: 1000, SlippageBps: 5}
}

// MatchStatus is the outcome of one match attempt.
type MatchStatus string

const (
	StatusFilled          MatchStatus = "FILLED"
	StatusPartiallyFilled MatchStatus = "PARTIALLY_FILLED"
	StatusRejected        MatchStatus = "REJECTED"
)

// MatchResult reports one match attempt. Rejections carry a reason and
// guarantee the order was not mutated.
type MatchResult struct {
	Status MatchStatus
	Reason string
	Fill   domain.Fill
}

// Engine fills orders against exactly one current bar per symbol per tick.
// Given the same bar sequence and order flow it produces identical fills on
// every run; there is no randomness and no wall-clock dependence.
type Engine struct {
	cfg  Config
	bars map[string]domain.Bar
}

// NewEngine creates a deterministic matching engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Rule == "" {
		cfg.Rule = PriceClose
	}
	if cfg.MaxVolumeBps <= 0 {
		cfg.MaxVolumeBps = 1000
	}
	return &Engine{cfg: cfg, bars: make(map[string]domain.Bar)}
}

// SetBar installs the current bar for its symbol. Call once per tick before
// matching.
func (e *Engine) SetBar(bar domain.Bar) {
	e.bars[bar.Symbol] = bar
}

// CurrentBar returns the bar the engine would fill against.
func (e *Engine) CurrentBar(symbol string) (domain.Bar, bool) {
	bar, ok := e.bars[symbol]
	return bar, ok
}

// Match attempts to fill the order against the current bar. No current bar,
// or an order that is not fillable, is a rejection, never a panic, and never
// a partial mutation.
func (e *Engine) Match(o *domain.Order) MatchResult {
	bar, ok := e.bars[o.Symbol]
	if !ok {
		return MatchResult{Status: StatusRejected, Reason: fmt.Sprintf("no current bar for %s", o.Symbol)}
	}
	if o.State != domain.StateAcked && o.State != domain.StatePartiallyFilled {
		return MatchResult{Status: StatusRejected, Reason: fmt.Sprintf("order %d not fillable in state %s", o.ID, o.State)}
	}

	maxQty := quant.QtySats(quant.FractionBps(int64(bar.VolumeSats), e.cfg.MaxVolumeBps))
	if maxQty <= 0 {
		return MatchResult{Status: StatusRejected, Reason: fmt.Sprintf("no fillable volume in bar for %s", o.Symbol)}
	}

	qty := o.RemainingSats
	if qty > maxQty {
		qty = maxQty
	}

	price := e.referencePrice(bar)
	if o.Side == domain.SideBuy {
		price = quant.ApplyBps(price, e.cfg.SlippageBps)
	} else {
		price = quant.ApplyBps(price, -e.cfg.SlippageBps)
	}

	filled, err := o.Fill(qty)
	if err != nil {
		return MatchResult{Status: StatusRejected, Reason: err.Error()}
	}

	status := StatusPartiallyFilled
	if o.State == domain.StateFilled {
		status = StatusFilled
	}
	return MatchResult{
		Status: status,
		Fill: domain.Fill{
			OrderID:     o.ID,
			Symbol:      o.Symbol,
			Side:        o.Side,
			PriceMicros: price,
			QtySats:     filled,
			TsUnixM:     bar.TsUnixM,
		},
	}
}

func (e *Engine) referencePrice(bar domain.Bar) quant.PriceMicros {
	switch e.cfg.Rule {
	case PriceOpen:
		return bar.OpenMicros
	case PriceVWAP:
		if bar.VWAPMicros > 0 {
			return bar.VWAPMicros
		}
		// Venue bars without vwap fall back to close.
		return bar.CloseMicros
	default:
		return bar.CloseMicros
	}
}

// Reset drops all current bars.
func (e *Engine) Reset() {
	e.bars = make(map[string]domain.Bar)
}
