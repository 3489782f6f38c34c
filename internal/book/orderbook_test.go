package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

const ts = quant.TimeStamp(1704067200_000000)

func limit(id uint64, side domain.Side, price, qty int64) *domain.Order {
	return domain.NewOrder(id, "BTCUSDT", side, domain.TypeLimit,
		quant.PriceMicros(price), quant.QtySats(qty), ts)
}

func TestOrderBook_RejectsWrongSymbolAndState(t *testing.T) {
	b := New("BTCUSDT")

	o := domain.NewOrder(1, "ETHUSDT", domain.SideBuy, domain.TypeLimit, 100, 10, ts)
	_, err := b.AddOrder(o, ts)
	require.Error(t, err)
	assert.Equal(t, domain.StateNew, o.State, "rejected order must stay NEW")

	o2 := limit(2, domain.SideBuy, 100, 10)
	o2.State = domain.StateAcked
	_, err = b.AddOrder(o2, ts)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestOrderBook_CrossTradesAtRestingPrice(t *testing.T) {
	b := New("BTCUSDT")

	rest := limit(1, domain.SideSell, 100_000000, 10_00000000)
	_, err := b.AddOrder(rest, ts)
	require.NoError(t, err)

	// Aggressive buy crosses at 105 but trades at the resting 100.
	incoming := limit(2, domain.SideBuy, 105_000000, 10_00000000)
	trades, err := b.AddOrder(incoming, ts)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, quant.PriceMicros(100_000000), trades[0].PriceMicros)
	assert.Equal(t, uint64(2), trades[0].BuyOrderID)
	assert.Equal(t, uint64(1), trades[0].SellOrderID)
	assert.NotEmpty(t, trades[0].ID)
	assert.Equal(t, domain.StateFilled, rest.State)
	assert.Equal(t, domain.StateFilled, incoming.State)
}

func TestOrderBook_PriceTimePriority(t *testing.T) {
	b := New("BTCUSDT")

	first := limit(1, domain.SideSell, 100_000000, 5_00000000)
	second := limit(2, domain.SideSell, 100_000000, 5_00000000)
	_, err := b.AddOrder(first, ts)
	require.NoError(t, err)
	_, err = b.AddOrder(second, ts+1)
	require.NoError(t, err)

	// Buy 5: must hit the earlier arrival at the same price.
	incoming := limit(3, domain.SideBuy, 100_000000, 5_00000000)
	trades, err := b.AddOrder(incoming, ts+2)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, uint64(1), trades[0].SellOrderID)
	assert.Equal(t, domain.StateFilled, first.State)
	assert.Equal(t, domain.StateAcked, second.State)
}

func TestOrderBook_PartialRemainderRests(t *testing.T) {
	b := New("BTCUSDT")

	_, err := b.AddOrder(limit(1, domain.SideSell, 100_000000, 4_00000000), ts)
	require.NoError(t, err)

	incoming := limit(2, domain.SideBuy, 100_000000, 10_00000000)
	trades, err := b.AddOrder(incoming, ts+1)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, domain.StatePartiallyFilled, incoming.State)
	assert.Equal(t, quant.QtySats(6_00000000), incoming.RemainingSats)

	best, ok := b.BestBid()
	require.True(t, ok, "remainder should rest on the bid side")
	assert.Equal(t, quant.PriceMicros(100_000000), best)
}

func TestOrderBook_LazyCancel(t *testing.T) {
	b := New("BTCUSDT")

	o1 := limit(1, domain.SideBuy, 101_000000, 5_00000000)
	o2 := limit(2, domain.SideBuy, 100_000000, 5_00000000)
	_, err := b.AddOrder(o1, ts)
	require.NoError(t, err)
	_, err = b.AddOrder(o2, ts+1)
	require.NoError(t, err)

	require.True(t, b.CancelOrder(1))
	assert.Equal(t, domain.StateCanceled, o1.State)
	assert.False(t, b.CancelOrder(1), "double cancel must fail")

	// Best bid skips the canceled top.
	best, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, quant.PriceMicros(100_000000), best)

	// Depth never shows inactive entries.
	depth := b.Depth(domain.SideBuy, 0)
	require.Len(t, depth, 1)
	assert.Equal(t, quant.PriceMicros(100_000000), depth[0].PriceMicros)

	// A crossing sell fills against the live order, not the canceled one.
	trades, err := b.AddOrder(limit(3, domain.SideSell, 99_000000, 5_00000000), ts+2)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(2), trades[0].BuyOrderID)
}

func TestOrderBook_MarketOrderNeverRests(t *testing.T) {
	b := New("BTCUSDT")

	_, err := b.AddOrder(limit(1, domain.SideSell, 100_000000, 3_00000000), ts)
	require.NoError(t, err)

	mkt := domain.NewOrder(2, "BTCUSDT", domain.SideBuy, domain.TypeMarket, 0, 10_00000000, ts)
	trades, err := b.AddOrder(mkt, ts+1)
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, quant.QtySats(3_00000000), mkt.FilledSats)
	assert.Equal(t, domain.StateCanceled, mkt.State, "unfilled market remainder is canceled")
	_, ok := b.BestBid()
	assert.False(t, ok, "market order must not rest")
}

func TestOrderBook_NeverCrossedAfterMatching(t *testing.T) {
	b := New("BTCUSDT")

	orders := []*domain.Order{
		limit(1, domain.SideBuy, 99_000000, 5_00000000),
		limit(2, domain.SideSell, 101_000000, 5_00000000),
		limit(3, domain.SideBuy, 100_000000, 3_00000000),
		limit(4, domain.SideSell, 100_000000, 8_00000000),
		limit(5, domain.SideBuy, 102_000000, 2_00000000),
	}
	for i, o := range orders {
		_, err := b.AddOrder(o, ts+quant.TimeStamp(i))
		require.NoError(t, err)

		bid, hasBid := b.BestBid()
		ask, hasAsk := b.BestAsk()
		if hasBid && hasAsk {
			assert.Less(t, int64(bid), int64(ask), "book crossed after order %d", o.ID)
		}
	}
}

func TestOrderBook_FillCrossedSweepsReachedLevels(t *testing.T) {
	b := New("BTCUSDT")

	bidHigh := limit(1, domain.SideBuy, 98_000000, 1_00000000)
	bidLow := limit(2, domain.SideBuy, 95_000000, 2_00000000)
	ask := limit(3, domain.SideSell, 104_000000, 3_00000000)
	for _, o := range []*domain.Order{bidHigh, bidLow, ask} {
		_, err := b.AddOrder(o, ts)
		require.NoError(t, err)
	}

	// Mark drops to 96: only the 98 bid is reached.
	trades := b.FillCrossed(96_000000, ts)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(1), trades[0].BuyOrderID)
	assert.Zero(t, trades[0].SellOrderID, "filled against outside liquidity")
	assert.Equal(t, quant.PriceMicros(98_000000), trades[0].PriceMicros, "fills at its own limit")
	assert.Equal(t, domain.StateFilled, bidHigh.State)
	assert.Equal(t, domain.StateAcked, bidLow.State)

	// Mark jumps through the ask.
	trades = b.FillCrossed(105_000000, ts)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(3), trades[0].SellOrderID)
	assert.Equal(t, domain.StateFilled, ask.State)

	assert.Empty(t, b.FillCrossed(96_000000, ts), "no double fills")
}

func TestOrderBook_FillCrossedSkipsCanceled(t *testing.T) {
	b := New("BTCUSDT")

	o := limit(1, domain.SideBuy, 98_000000, 1_00000000)
	_, err := b.AddOrder(o, ts)
	require.NoError(t, err)
	require.True(t, b.CancelOrder(1))

	assert.Empty(t, b.FillCrossed(90_000000, ts))
}
