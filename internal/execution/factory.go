package execution

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/internal/infra"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// Factory creates broker adapters based on the configured trading mode.
type Factory struct {
	config *infra.Config
}

// NewFactory creates a new factory.
func NewFactory(cfg *infra.Config) *Factory {
	return &Factory{config: cfg}
}

// CreateBroker returns the broker adapter for the configured mode. Live mode
// refuses to start without the CONFIRM_REAL_MONEY latch.
func (f *Factory) CreateBroker() (domain.BrokerAdapter, error) {
	mode := f.config.Trading.Mode

	slog.Info("Initializing execution system", "mode", mode)

	switch mode {
	case infra.ModePaper:
		return NewPaperBroker(f.config.Trading.InitialCashMicros), nil

	case infra.ModeMock:
		return NewMockBroker(), nil

	case infra.ModeLive:
		// SAFETY LATCH CHECK
		if os.Getenv("CONFIRM_REAL_MONEY") != "true" {
			err := fmt.Errorf("SAFETY_GUARD: live trading requires 'CONFIRM_REAL_MONEY=true' environment variable")
			slog.Error(err.Error())
			panic(err) // Fail Fast
		}

		slog.Warn("Connecting to LIVE venue, real money at risk")
		return NewLiveBroker(f.config), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}

// LiveBroker sends orders to a real venue. Every call is paced by the order
// rate limiter and guarded by a circuit breaker so a flapping venue API
// cannot be hammered.
type LiveBroker struct {
	cfg     *infra.Config
	limiter *infra.RateLimiter
	breaker *infra.CircuitBreaker
}

// NewLiveBroker creates the live adapter.
func NewLiveBroker(cfg *infra.Config) *LiveBroker {
	return &LiveBroker{
		cfg:     cfg,
		limiter: infra.GetOrderLimiter(),
		breaker: infra.NewCircuitBreaker(infra.DefaultCircuitBreakerConfig("live-broker")),
	}
}

// SubmitOrder sends a new order to the venue.
func (e *LiveBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if !e.breaker.Allow() {
		return domain.OrderResult{}, fmt.Errorf("venue circuit breaker open, order refused")
	}
	e.limiter.Wait()

	slog.Info("Sending order to venue",
		"symbol", req.Symbol,
		"side", string(req.Side),
		"qty", int64(req.QtySats))

	// TODO: wire the venue order endpoint once the brokerage account is
	// provisioned; until then live submissions are refused.
	e.breaker.RecordFailure()
	return domain.OrderResult{}, fmt.Errorf("venue order endpoint not configured")
}

// CancelOrder cancels an existing order by ID.
func (e *LiveBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if !e.breaker.Allow() {
		return false, fmt.Errorf("venue circuit breaker open, cancel refused")
	}
	e.limiter.Wait()
	return false, fmt.Errorf("venue cancel endpoint not configured")
}

// GetAccount fetches cash and equity from the venue.
func (e *LiveBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	return domain.Account{}, fmt.Errorf("venue account endpoint not configured")
}

// GetPositions fetches open positions from the venue.
func (e *LiveBroker) GetPositions(ctx context.Context) (map[string]quant.QtySats, error) {
	return nil, fmt.Errorf("venue position endpoint not configured")
}

// Close releases the venue connection.
func (e *LiveBroker) Close() error {
	return nil
}
