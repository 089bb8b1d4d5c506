package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"market-quoter-go/gateway"
	"market-quoter-go/inventory"
	"market-quoter-go/metrics"
	"market-quoter-go/order"
	"market-quoter-go/risk"
	"market-quoter-go/strategy"
)

type fakeMarket struct {
	mu       sync.Mutex
	book     gateway.Book
	balances []gateway.Balance
	bookErr  error
}

func (m *fakeMarket) setBook(bid, ask float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book = gateway.Book{
		Bids: []gateway.PriceLevel{{Price: bid, Quantity: 10}},
		Asks: []gateway.PriceLevel{{Price: ask, Quantity: 10}},
	}
}

func (m *fakeMarket) TopOfBook(_ context.Context, _ string, _ int) (gateway.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book, m.bookErr
}

func (m *fakeMarket) Balances(_ context.Context) ([]gateway.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances, nil
}

type fakeVenue struct {
	mu          sync.Mutex
	seq         int
	open        map[string]order.Order
	failPlaces  int
	failCancels bool
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{open: make(map[string]order.Order)}
}

func (v *fakeVenue) PlaceOrder(_ context.Context, symbol, side, _ string, quantity, price float64) (order.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failPlaces > 0 {
		v.failPlaces--
		return order.Order{}, errors.New("venue rejected order")
	}
	v.seq++
	o := order.Order{
		ID:        fmt.Sprintf("F%d", v.seq),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    order.StatusNew,
		CreatedAt: time.Now(),
	}
	v.open[o.ID] = o
	return o, nil
}

func (v *fakeVenue) CancelOrder(_ context.Context, _ string, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failCancels {
		return errors.New("venue rejected cancel")
	}
	if _, ok := v.open[orderID]; !ok {
		return fmt.Errorf("unknown order %s", orderID)
	}
	delete(v.open, orderID)
	return nil
}

func (v *fakeVenue) OpenOrders(_ context.Context, _ string) ([]order.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]order.Order, 0, len(v.open))
	for _, o := range v.open {
		out = append(out, o)
	}
	return out, nil
}

func (v *fakeVenue) openCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.open)
}

func newTestLoop(t *testing.T, venue *fakeVenue, market *fakeMarket) *Loop {
	t.Helper()
	return newTestLoopTick(t, venue, market, time.Hour)
}

func newTestLoopTick(t *testing.T, venue *fakeVenue, market *fakeMarket, tick time.Duration) *Loop {
	t.Helper()
	log := zap.NewNop()

	gen, err := strategy.NewGenerator(strategy.Params{
		BidSpreadPct:   0.2,
		AskSpreadPct:   0.2,
		OrderNotional:  500,
		PriceReference: strategy.RefMid,
		Levels:         1,
		MinOrderSize:   0.001,
		PricePrecision: 2,
		LotPrecision:   4,
	})
	require.NoError(t, err)

	l, err := New(
		Config{
			Instrument: gateway.Instrument{
				Symbol: "BTCUSDT", BaseAsset: "BTC", QuoteAsset: "USDT",
				PricePrecision: 2, LotPrecision: 4,
			},
			TickInterval: tick,
			Depth:        5,
		},
		Components{
			Market:    market,
			Executor:  order.NewExecutor("BTCUSDT", venue, nil, log),
			Generator: gen,
			Refresh:   strategy.RefreshPolicy{TolerancePct: 0},
			Gate:      risk.NewGate(risk.GateConfig{MinOrderSize: 0.001, LotPrecision: 4}),
			Breaker:   risk.NewBreaker(0.01, 5.0),
			Inventory: inventory.NewTracker("BTCUSDT"),
			Monitor:   metrics.New("test"),
			Logger:    log,
		},
	)
	require.NoError(t, err)
	return l
}

func normalMarket() *fakeMarket {
	m := &fakeMarket{balances: []gateway.Balance{
		{Asset: "BTC", Available: 1},
		{Asset: "USDT", Available: 10000},
	}}
	m.setBook(99.95, 100.05) // mid 100, spread 0.1%
	return m
}

func TestCyclePlacesQuotesAroundMid(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)

	bids := l.executor.RestingBySide(order.SideBuy)
	asks := l.executor.RestingBySide(order.SideSell)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)

	assert.Equal(t, 99.80, bids[0].Price)
	assert.Equal(t, 100.20, asks[0].Price)
	assert.InDelta(t, 5.0100, bids[0].Quantity, 1e-9)
	// 只有 1 BTC 可卖，风控按 95% 收敛数量而不是整层拒绝
	assert.InDelta(t, 0.95, asks[0].Quantity, 1e-9)
	assert.Equal(t, 2, venue.openCount())
}

func TestCycleHoldsWhenWithinTolerance(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	before := testutil.ToFloat64(l.monitor.OrdersPlaced)

	// 盘口未动，目标价与现存挂单一致，不应产生任何新请求
	l.cycle(ctx)
	assert.Equal(t, before, testutil.ToFloat64(l.monitor.OrdersPlaced))
	assert.Equal(t, 2, venue.openCount())
}

func TestCycleReplacesOnDrift(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	market.setBook(100.95, 101.05) // mid 101
	l.cycle(ctx)

	bids := l.executor.RestingBySide(order.SideBuy)
	asks := l.executor.RestingBySide(order.SideSell)
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	assert.Equal(t, 100.79, bids[0].Price)
	assert.Equal(t, 101.21, asks[0].Price)
	assert.Equal(t, 2, venue.openCount())
}

func TestBreakerTripCancelsAndResumeRequotes(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	require.Equal(t, 2, venue.openCount())

	market.setBook(90, 100) // spread ~11%，超出带宽
	l.cycle(ctx)
	assert.Equal(t, 0, venue.openCount())
	assert.True(t, l.breaker.Tripped())

	// 仍在熔断中，不得报价
	l.cycle(ctx)
	assert.Equal(t, 0, venue.openCount())

	market.setBook(99.95, 100.05)
	l.cycle(ctx)
	assert.False(t, l.breaker.Tripped())
	assert.Equal(t, 2, venue.openCount())
}

func TestReplacementLostPlacesFreshOrder(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	market.setBook(100.95, 101.05)
	venue.mu.Lock()
	venue.failPlaces = 1 // 改单的新单失败一次，随后的补单成功
	venue.mu.Unlock()
	l.cycle(ctx)

	assert.Equal(t, 1.0, testutil.ToFloat64(l.monitor.ReplacementsLost))
	bids := l.executor.RestingBySide(order.SideBuy)
	require.Len(t, bids, 1)
	assert.Equal(t, 100.79, bids[0].Price)
	assert.Equal(t, 2, venue.openCount())
}

func TestFillOpensAndReducesPosition(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	bid := l.executor.RestingBySide(order.SideBuy)[0]
	ask := l.executor.RestingBySide(order.SideSell)[0]

	fill := gateway.FillEvent{
		OrderID:        bid.ID,
		Side:           order.SideBuy,
		Price:          bid.Price,
		FilledQuantity: bid.Quantity,
		Status:         string(order.StatusFilled),
	}
	l.onFill(ctx, fill)

	pos, ok := l.inventory.Current()
	require.True(t, ok)
	assert.Equal(t, bid.Price, pos.EntryPrice)
	assert.InDelta(t, bid.Quantity, pos.Quantity, 1e-9)
	assert.Greater(t, pos.TargetPrice, pos.EntryPrice)

	// 同一终态重复投递必须是空操作
	l.onFill(ctx, fill)
	assert.Equal(t, 1, l.inventory.TradeCount())

	l.onFill(ctx, gateway.FillEvent{
		OrderID:        ask.ID,
		Side:           order.SideSell,
		Price:          ask.Price,
		FilledQuantity: ask.Quantity,
		Status:         string(order.StatusFilled),
	})
	assert.InDelta(t, (ask.Price-bid.Price)*ask.Quantity, l.inventory.RealizedPnL(), 1e-9)
	pos, ok = l.inventory.Current()
	require.True(t, ok)
	assert.InDelta(t, bid.Quantity-ask.Quantity, pos.Quantity, 1e-9)
}

func TestCanceledFillDoesNotTouchPosition(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	bid := l.executor.RestingBySide(order.SideBuy)[0]
	l.onFill(ctx, gateway.FillEvent{
		OrderID: bid.ID,
		Side:    order.SideBuy,
		Status:  string(order.StatusCanceled),
	})

	_, ok := l.inventory.Current()
	assert.False(t, ok)
	assert.Len(t, l.executor.RestingBySide(order.SideBuy), 0)
}

func TestStartStopCancelsAllOrders(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	l.cycle(ctx)
	require.Equal(t, 2, venue.openCount())

	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, 0, venue.openCount())
	assert.Equal(t, StateStopped, l.Status().State)
}

func TestResumeRequotesStaleSurvivors(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	require.Equal(t, 2, venue.openCount())

	// 熔断时撤单全部失败，旧挂单留在场上
	venue.mu.Lock()
	venue.failCancels = true
	venue.mu.Unlock()
	market.setBook(90, 100)
	l.cycle(ctx)
	require.Equal(t, 2, venue.openCount())

	// 恢复后换上宽松的刷新护栏：间隔未到、漂移也在容忍内，
	// 旧报价仍然必须被整轮替换掉
	venue.mu.Lock()
	venue.failCancels = false
	venue.mu.Unlock()
	l.SetRefreshPolicy(strategy.RefreshPolicy{Interval: time.Hour, TolerancePct: 50})
	l.lastRefresh = time.Now()
	market.setBook(100.95, 101.05)
	l.cycle(ctx)

	assert.False(t, l.breaker.Tripped())
	bids := l.executor.RestingBySide(order.SideBuy)
	require.Len(t, bids, 1)
	assert.Equal(t, 100.79, bids[0].Price, "pre-trip quote must not survive the resume")

	// 强制重报只作用一轮，之后护栏恢复生效
	before := testutil.ToFloat64(l.monitor.OrdersPlaced)
	l.cycle(ctx)
	assert.Equal(t, before, testutil.ToFloat64(l.monitor.OrdersPlaced))
}

func TestPartialFillThenCancelKeepsExecutedInventory(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	bid := l.executor.RestingBySide(order.SideBuy)[0]

	l.onFill(ctx, gateway.FillEvent{
		OrderID:        bid.ID,
		Side:           order.SideBuy,
		Price:          bid.Price,
		FilledQuantity: 1.0,
		Status:         string(order.StatusPartiallyFilled),
	})
	_, ok := l.inventory.Current()
	assert.False(t, ok, "non-terminal fill must not touch the position")

	// 部分成交后被撤：已买入的 1.0 必须入账
	l.onFill(ctx, gateway.FillEvent{
		OrderID:        bid.ID,
		Side:           order.SideBuy,
		Price:          bid.Price,
		FilledQuantity: 1.0,
		Status:         string(order.StatusCanceled),
	})
	pos, ok := l.inventory.Current()
	require.True(t, ok)
	assert.Equal(t, bid.Price, pos.EntryPrice)
	assert.InDelta(t, 1.0, pos.Quantity, 1e-9)
	assert.Len(t, l.executor.RestingBySide(order.SideBuy), 0)
}

func TestStatusWhileRunning(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoopTick(t, venue, market, time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Start(ctx))
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		st := l.Status()
		assert.Equal(t, StateRunning, st.State)
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, l.Stop(ctx))
	assert.Greater(t, l.Status().Stats.Cycles, int64(0))
}

func TestStopWithoutStartReturnsImmediately(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
	assert.Equal(t, StateStopped, l.Status().State)
}

func TestStatusSnapshot(t *testing.T) {
	venue := newFakeVenue()
	market := normalMarket()
	l := newTestLoop(t, venue, market)
	ctx := context.Background()

	l.cycle(ctx)
	st := l.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "BTCUSDT", st.Symbol)
	assert.Len(t, st.RestingOrders, 2)
	assert.Nil(t, st.Position)
	assert.False(t, st.BreakerTripped)
}
