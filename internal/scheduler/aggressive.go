package scheduler

import (
	"log/slog"
	"sort"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Escalator converts unfinished plan remainders into market orders when the
// execution window is nearly spent. Each symbol escalates at most once per
// session, so a market order that itself fills slowly is not re-sent.
type Escalator struct {
	triggerBps int64 // window fraction after which escalation fires
	escalated  map[string]bool
	logger     *slog.Logger
}

// NewEscalator creates a completion handler. triggerBps is the elapsed
// fraction of the window, in basis points, at which escalation begins
// (9000 == last 10% of the window).
func NewEscalator(triggerBps int64, logger *slog.Logger) *Escalator {
	if triggerBps <= 0 || triggerBps > quant.BpsScale {
		triggerBps = 9000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		triggerBps: triggerBps,
		escalated:  make(map[string]bool),
		logger:     logger,
	}
}

// CheckAndEscalate returns market orders for the remaining quantities when
// now is inside the escalation zone. remaining is signed per symbol, positive
// for quantity still to buy. Output is sorted by symbol. Before the trigger
// point, or for symbols already escalated, it returns nothing.
func (h *Escalator) CheckAndEscalate(
	now, windowStart, windowEnd quant.TimeStamp,
	remaining map[string]quant.QtySats,
) []domain.OrderRequest {
	if windowEnd <= windowStart {
		return nil
	}
	elapsed := int64(now - windowStart)
	window := int64(windowEnd - windowStart)
	if elapsed*quant.BpsScale < window*h.triggerBps {
		return nil
	}

	symbols := make([]string, 0, len(remaining))
	for sym, qty := range remaining {
		if qty != 0 && !h.escalated[sym] {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	orders := make([]domain.OrderRequest, 0, len(symbols))
	for _, sym := range symbols {
		qty := remaining[sym]
		side := domain.SideBuy
		if qty < 0 {
			side = domain.SideSell
			qty = -qty
		}
		orders = append(orders, domain.OrderRequest{
			Symbol:  sym,
			Side:    side,
			Type:    domain.TypeMarket,
			QtySats: qty,
		})
		h.escalated[sym] = true

		h.logger.Warn("escalating remainder to market order",
			"symbol", sym,
			"side", string(side),
			"qty", int64(qty))
	}
	return orders
}

// Escalated reports whether the symbol was already escalated this session.
func (h *Escalator) Escalated(symbol string) bool {
	return h.escalated[symbol]
}

// ResetSession re-arms escalation for a new execution window.
func (h *Escalator) ResetSession() {
	h.escalated = make(map[string]bool)
}
