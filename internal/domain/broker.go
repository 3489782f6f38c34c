package domain

import (
	"context"

	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// OrderRequest is the broker-facing shape of an order submission.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	QtySats     quant.QtySats
	PriceMicros quant.PriceMicros // 0 for market orders
	StopMicros  quant.PriceMicros // 0 when unused
}

// OrderResult is what the broker reports back on submission.
type OrderResult struct {
	OrderID       string
	Status        OrderState
	FilledSats    quant.QtySats
	AvgFillMicros quant.PriceMicros
}

// Account is the broker's view of buying power.
type Account struct {
	CashMicros   int64
	EquityMicros int64
}

// BrokerAdapter abstracts the venue-specific submission wire format.
// Implementations handle Paper, Demo, and Real venues; the core stays
// consistent even when a call never returns success.
type BrokerAdapter interface {
	// SubmitOrder sends a new order to the venue.
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)

	// CancelOrder cancels an existing order. The bool reports whether the
	// venue accepted the cancel.
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetAccount returns current buying power.
	GetAccount(ctx context.Context) (Account, error)

	// GetPositions returns signed open quantities per symbol.
	GetPositions(ctx context.Context) (map[string]quant.QtySats, error)

	// Close cleans up resources and wipes secrets.
	Close() error
}
