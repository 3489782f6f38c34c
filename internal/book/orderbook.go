package book

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// bookEntry ties a resting order to its arrival sequence. Price-time
// priority is (price, arrival): arrival breaks ties at the same price.
type bookEntry struct {
	order   *domain.Order
	arrival uint64
}

// priceQueue is a heap of resting orders for one side of the book.
// asc=true orders by ascending price (asks), asc=false descending (bids).
type priceQueue struct {
	entries []*bookEntry
	asc     bool
}

func (q *priceQueue) Len() int { return len(q.entries) }

func (q *priceQueue) Less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if a.order.PriceMicros != b.order.PriceMicros {
		if q.asc {
			return a.order.PriceMicros < b.order.PriceMicros
		}
		return a.order.PriceMicros > b.order.PriceMicros
	}
	return a.arrival < b.arrival
}

func (q *priceQueue) Swap(i, j int) { q.entries[i], q.entries[j] = q.entries[j], q.entries[i] }

func (q *priceQueue) Push(x any) { q.entries = append(q.entries, x.(*bookEntry)) }

func (q *priceQueue) Pop() any {
	old := q.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.entries = old[:n-1]
	return e
}

// Level is one aggregated price level of the book.
type Level struct {
	PriceMicros quant.PriceMicros
	QtySats     quant.QtySats
}

// OrderBook matches one symbol with price-time priority. Cancellation is
// lazy: a canceled order stays in its heap flagged inactive and is popped
// only when it surfaces at the top, keeping operations O(log n) amortized.
//
// The book is not internally locked; the sequencer is the single point of
// serialization for all mutation.
type OrderBook struct {
	symbol   string
	bids     *priceQueue
	asks     *priceQueue
	resting  map[uint64]*domain.Order
	canceled map[uint64]bool
	arrival  uint64
}

// New creates an empty book for a symbol.
func New(symbol string) *OrderBook {
	return &OrderBook{
		symbol:   symbol,
		bids:     &priceQueue{asc: false},
		asks:     &priceQueue{asc: true},
		resting:  make(map[uint64]*domain.Order),
		canceled: make(map[uint64]bool),
	}
}

// Symbol returns the book's symbol.
func (b *OrderBook) Symbol() string { return b.symbol }

// AddOrder acks the incoming order, matches it against the opposite side
// while it remains marketable, and rests any limit remainder. Each match
// trades at the resting order's price. Market remainders are canceled
// (immediate-or-cancel), never rested.
func (b *OrderBook) AddOrder(o *domain.Order, now quant.TimeStamp) ([]*domain.Trade, error) {
	if o.Symbol != b.symbol {
		return nil, fmt.Errorf("order symbol %s does not match book %s", o.Symbol, b.symbol)
	}
	if o.State != domain.StateNew {
		return nil, fmt.Errorf("%w: add requires NEW, got %s (order %d)", domain.ErrIllegalTransition, o.State, o.ID)
	}
	if err := o.Transition(domain.StateAcked); err != nil {
		return nil, err
	}

	trades := b.match(o, now)

	if o.RemainingSats > 0 {
		if o.Type == domain.TypeLimit {
			b.arrival++
			entry := &bookEntry{order: o, arrival: b.arrival}
			if o.Side == domain.SideBuy {
				heap.Push(b.bids, entry)
			} else {
				heap.Push(b.asks, entry)
			}
			b.resting[o.ID] = o
		} else {
			// Unfilled market remainder cannot rest at a price.
			if err := o.Transition(domain.StateCanceled); err != nil {
				return trades, err
			}
		}
	}
	return trades, nil
}

func (b *OrderBook) match(o *domain.Order, now quant.TimeStamp) []*domain.Trade {
	opposite := b.asks
	if o.Side == domain.SideSell {
		opposite = b.bids
	}

	var trades []*domain.Trade
	for o.RemainingSats > 0 {
		top := b.peekActive(opposite)
		if top == nil {
			break
		}
		rest := top.order
		if !marketable(o, rest) {
			break
		}

		qty := o.RemainingSats
		if rest.RemainingSats < qty {
			qty = rest.RemainingSats
		}
		price := rest.PriceMicros

		if _, err := o.Fill(qty); err != nil {
			break
		}
		if _, err := rest.Fill(qty); err != nil {
			break
		}

		trade := &domain.Trade{
			ID:          uuid.NewString(),
			Symbol:      b.symbol,
			PriceMicros: price,
			QtySats:     qty,
			TsUnixM:     now,
		}
		if o.Side == domain.SideBuy {
			trade.BuyOrderID, trade.SellOrderID = o.ID, rest.ID
		} else {
			trade.BuyOrderID, trade.SellOrderID = rest.ID, o.ID
		}
		trades = append(trades, trade)

		if rest.RemainingSats == 0 {
			heap.Pop(opposite)
			delete(b.resting, rest.ID)
		}
	}
	return trades
}

// peekActive returns the best live entry of a side, popping any canceled or
// terminal entries it encounters at the top.
func (b *OrderBook) peekActive(q *priceQueue) *bookEntry {
	for q.Len() > 0 {
		top := q.entries[0]
		if b.canceled[top.order.ID] || top.order.IsTerminal() {
			heap.Pop(q)
			delete(b.canceled, top.order.ID)
			delete(b.resting, top.order.ID)
			continue
		}
		return top
	}
	return nil
}

func marketable(incoming, rest *domain.Order) bool {
	if incoming.Type == domain.TypeMarket {
		return true
	}
	if incoming.Side == domain.SideBuy {
		return incoming.PriceMicros >= rest.PriceMicros
	}
	return incoming.PriceMicros <= rest.PriceMicros
}

// FillCrossed fills every resting order whose limit the mark price has
// reached: bids at or above mark, asks at or below mark, best first. Each
// order fills completely at its own limit price against outside liquidity,
// so the counterparty order id on the trade is zero. Simulated venues call
// this on every mark move.
func (b *OrderBook) FillCrossed(mark quant.PriceMicros, now quant.TimeStamp) []*domain.Trade {
	var trades []*domain.Trade
	for {
		top := b.peekActive(b.bids)
		if top == nil || top.order.PriceMicros < mark {
			break
		}
		if t := b.fillOut(top.order, b.bids, now); t != nil {
			trades = append(trades, t)
		}
	}
	for {
		top := b.peekActive(b.asks)
		if top == nil || top.order.PriceMicros > mark {
			break
		}
		if t := b.fillOut(top.order, b.asks, now); t != nil {
			trades = append(trades, t)
		}
	}
	return trades
}

func (b *OrderBook) fillOut(o *domain.Order, q *priceQueue, now quant.TimeStamp) *domain.Trade {
	qty := o.RemainingSats
	heap.Pop(q)
	delete(b.resting, o.ID)
	if _, err := o.Fill(qty); err != nil {
		return nil
	}

	t := &domain.Trade{
		ID:          uuid.NewString(),
		Symbol:      b.symbol,
		PriceMicros: o.PriceMicros,
		QtySats:     qty,
		TsUnixM:     now,
	}
	if o.Side == domain.SideBuy {
		t.BuyOrderID = o.ID
	} else {
		t.SellOrderID = o.ID
	}
	return t
}

// CancelOrder flags a resting order inactive and transitions it to CANCELED.
// The heap entry is removed lazily when it reaches the top.
func (b *OrderBook) CancelOrder(id uint64) bool {
	o, ok := b.resting[id]
	if !ok || b.canceled[id] {
		return false
	}
	if err := o.Transition(domain.StateCanceled); err != nil {
		return false
	}
	b.canceled[id] = true
	delete(b.resting, id)
	return true
}

// BestBid returns the highest live bid price.
func (b *OrderBook) BestBid() (quant.PriceMicros, bool) {
	if top := b.peekActive(b.bids); top != nil {
		return top.order.PriceMicros, true
	}
	return 0, false
}

// BestAsk returns the lowest live ask price.
func (b *OrderBook) BestAsk() (quant.PriceMicros, bool) {
	if top := b.peekActive(b.asks); top != nil {
		return top.order.PriceMicros, true
	}
	return 0, false
}

// Depth aggregates live quantity per price level, best first, skipping
// inactive entries. levels <= 0 returns every level.
func (b *OrderBook) Depth(side domain.Side, levels int) []Level {
	q := b.bids
	if side == domain.SideSell {
		q = b.asks
	}

	byPrice := make(map[quant.PriceMicros]quant.QtySats)
	for _, e := range q.entries {
		if b.canceled[e.order.ID] || e.order.IsTerminal() {
			continue
		}
		byPrice[e.order.PriceMicros] += e.order.RemainingSats
	}

	out := make([]Level, 0, len(byPrice))
	for price, qty := range byPrice {
		out = append(out, Level{PriceMicros: price, QtySats: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if side == domain.SideBuy {
			return out[i].PriceMicros > out[j].PriceMicros
		}
		return out[i].PriceMicros < out[j].PriceMicros
	})
	if levels > 0 && len(out) > levels {
		out = out[:levels]
	}
	return out
}

// Reset clears the book.
func (b *OrderBook) Reset() {
	b.bids = &priceQueue{asc: false}
	b.asks = &priceQueue{asc: true}
	b.resting = make(map[uint64]*domain.Order)
	b.canceled = make(map[uint64]bool)
	b.arrival = 0
}
