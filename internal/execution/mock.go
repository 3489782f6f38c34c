package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// MockBroker is a safe implementation that only logs and records orders.
// Tests use it to assert what would have been sent to a venue.
type MockBroker struct {
	mu        sync.Mutex
	submitted []domain.OrderRequest
	canceled  []string

	// SubmitErr, when set, makes every submission fail. Tests use it to
	// exercise rejection paths.
	SubmitErr error
}

// NewMockBroker creates an order-recording broker.
func NewMockBroker() *MockBroker {
	return &MockBroker{}
}

func (m *MockBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		return domain.OrderResult{}, m.SubmitErr
	}

	m.submitted = append(m.submitted, req)
	slog.Info("MOCK EXECUTION: Submit Order",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Int64("price", int64(req.PriceMicros)),
		slog.Int64("qty", int64(req.QtySats)),
	)
	return domain.OrderResult{
		OrderID: fmt.Sprintf("mock-%d", len(m.submitted)),
		Status:  domain.StateAcked,
	}, nil
}

func (m *MockBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canceled = append(m.canceled, orderID)
	slog.Info("MOCK EXECUTION: Cancel Order", slog.String("id", orderID))
	return true, nil
}

func (m *MockBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	return domain.Account{}, nil
}

func (m *MockBroker) GetPositions(ctx context.Context) (map[string]quant.QtySats, error) {
	return map[string]quant.QtySats{}, nil
}

// Submitted returns a copy of every recorded order request.
func (m *MockBroker) Submitted() []domain.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.OrderRequest, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// Canceled returns the IDs of every cancel request.
func (m *MockBroker) Canceled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.canceled))
	copy(out, m.canceled)
	return out
}

func (m *MockBroker) Close() error {
	return nil
}
