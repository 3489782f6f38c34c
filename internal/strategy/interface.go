package strategy

import (
	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
)

// Strategy defines the interface for trading logic. Implementations must be
// deterministic: the same bar sequence always produces the same signals.
type Strategy interface {
	// Name identifies the strategy in logs and audit records.
	Name() string

	// OnBar is called once per completed bar. Returned signals are advisory;
	// the sequencer runs them through pre-trade validation before anything
	// reaches a broker.
	OnBar(bar domain.Bar) []domain.Signal

	// OnOrderUpdate is called when an order status changes (Filled, Canceled, etc).
	OnOrderUpdate(order domain.Order)
}
