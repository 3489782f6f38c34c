package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dafu-zhu/trading-system-sub000/internal/book"
	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// PaperBroker simulates order execution against a virtual portfolio.
// This is used for strategy validation before any real money moves. Market
// orders and crossed limits fill immediately at the mark; limit orders away
// from the mark rest in a price-time book and fill when the mark reaches
// their level.
type PaperBroker struct {
	mu        sync.Mutex
	portfolio *domain.Portfolio
	prices    map[string]quant.PriceMicros
	fills     []domain.Fill
	books     map[string]*book.OrderBook
	resting   map[string]*domain.Order // broker order id -> resting order
	ids       domain.IDGen
}

// NewPaperBroker creates a paper broker with starting cash.
func NewPaperBroker(initialCashMicros int64) *PaperBroker {
	return &PaperBroker{
		portfolio: domain.NewPortfolio(initialCashMicros),
		prices:    make(map[string]quant.PriceMicros),
		books:     make(map[string]*book.OrderBook),
		resting:   make(map[string]*domain.Order),
	}
}

// UpdatePrice moves the mark for a symbol and executes every resting order
// the new mark crosses, each at its own limit price.
func (p *PaperBroker) UpdatePrice(symbol string, priceMicros quant.PriceMicros) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = priceMicros

	bk, ok := p.books[symbol]
	if !ok {
		return
	}
	now := quant.TimeStamp(time.Now().UnixMicro())
	for _, tr := range bk.FillCrossed(priceMicros, now) {
		side, orderID := domain.SideSell, tr.SellOrderID
		if tr.BuyOrderID != 0 {
			side, orderID = domain.SideBuy, tr.BuyOrderID
		}
		fill := domain.Fill{
			OrderID:     orderID,
			Symbol:      symbol,
			Side:        side,
			PriceMicros: tr.PriceMicros,
			QtySats:     tr.QtySats,
			TsUnixM:     tr.TsUnixM,
		}
		p.portfolio.ApplyFill(fill)
		p.fills = append(p.fills, fill)

		slog.Info("PAPER EXECUTION: Resting order filled",
			slog.String("symbol", symbol),
			slog.String("side", string(side)),
			slog.Int64("price", int64(tr.PriceMicros)),
			slog.Int64("qty", int64(tr.QtySats)))
	}
}

// SubmitOrder executes or rests the order. Market orders need a mark and fill
// at it. Limit orders fill at the mark when crossed, at their limit when no
// mark exists yet, and rest in the book otherwise. Buys that exceed available
// cash are refused.
func (p *PaperBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mark, hasMark := p.prices[req.Symbol]

	var execPrice quant.PriceMicros
	switch {
	case req.Type == domain.TypeMarket:
		if !hasMark {
			return domain.OrderResult{}, fmt.Errorf("no price available for %s", req.Symbol)
		}
		execPrice = mark

	case hasMark:
		crossed := (req.Side == domain.SideBuy && req.PriceMicros >= mark) ||
			(req.Side == domain.SideSell && req.PriceMicros <= mark)
		if !crossed {
			return p.restOrder(req)
		}
		execPrice = mark

	default:
		// No mark yet; treat the limit as the market.
		execPrice = req.PriceMicros
	}

	if req.Side == domain.SideBuy {
		cost, overflow := quant.NotionalMicros(execPrice, req.QtySats)
		if overflow {
			return domain.OrderResult{}, fmt.Errorf("order notional overflows for %s", req.Symbol)
		}
		if cost > p.portfolio.CashMicros {
			return domain.OrderResult{}, fmt.Errorf("insufficient cash: need %d, have %d",
				cost, p.portfolio.CashMicros)
		}
	}

	fill := domain.Fill{
		Symbol:      req.Symbol,
		Side:        req.Side,
		PriceMicros: execPrice,
		QtySats:     req.QtySats,
		TsUnixM:     quant.TimeStamp(time.Now().UnixMicro()),
	}
	p.portfolio.ApplyFill(fill)
	p.fills = append(p.fills, fill)

	orderID := uuid.NewString()
	slog.Info("PAPER EXECUTION: Order Filled",
		slog.String("id", orderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Int64("price", int64(execPrice)),
		slog.Int64("qty", int64(req.QtySats)))

	return domain.OrderResult{
		OrderID:       orderID,
		Status:        domain.StateFilled,
		FilledSats:    req.QtySats,
		AvgFillMicros: execPrice,
	}, nil
}

func (p *PaperBroker) restOrder(req domain.OrderRequest) (domain.OrderResult, error) {
	now := quant.TimeStamp(time.Now().UnixMicro())
	o := domain.NewOrder(p.ids.Next(), req.Symbol, req.Side, domain.TypeLimit, req.PriceMicros, req.QtySats, now)

	bk, ok := p.books[req.Symbol]
	if !ok {
		bk = book.New(req.Symbol)
		p.books[req.Symbol] = bk
	}
	// Cannot self-cross: any order crossing the mark took the immediate path.
	if _, err := bk.AddOrder(o, now); err != nil {
		return domain.OrderResult{}, err
	}

	orderID := uuid.NewString()
	p.resting[orderID] = o

	slog.Info("PAPER EXECUTION: Order Resting",
		slog.String("id", orderID),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Int64("limit", int64(req.PriceMicros)))

	return domain.OrderResult{
		OrderID: orderID,
		Status:  domain.StateAcked,
	}, nil
}

// CancelOrder cancels a resting limit order. Filled and unknown orders
// report false.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.resting[orderID]
	if !ok || o.IsTerminal() {
		return false, nil
	}
	delete(p.resting, orderID)
	return p.books[o.Symbol].CancelOrder(o.ID), nil
}

// GetAccount returns cash and marked equity.
func (p *PaperBroker) GetAccount(ctx context.Context) (domain.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.Account{
		CashMicros:   p.portfolio.CashMicros,
		EquityMicros: p.portfolio.EquityMicros(p.prices),
	}, nil
}

// GetPositions returns the signed open quantity per symbol.
func (p *PaperBroker) GetPositions(ctx context.Context) (map[string]quant.QtySats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.portfolio.Quantities(), nil
}

// GetFills returns a copy of all executed fills.
func (p *PaperBroker) GetFills() []domain.Fill {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]domain.Fill, len(p.fills))
	copy(result, p.fills)
	return result
}

// Close is a no-op for the paper broker.
func (p *PaperBroker) Close() error {
	return nil
}
