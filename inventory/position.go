package inventory

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNoPosition = errors.New("no open position")
	// ErrTargetNotAboveEntry：多头止盈价必须严格高于开仓价，低了直接拒绝，不做钳制。
	ErrTargetNotAboveEntry = errors.New("target exit not above entry")
)

const closeEpsilon = 1e-12

// Position 单标的多头持仓。同一时刻至多一个。
type Position struct {
	Symbol      string
	EntryPrice  float64
	Quantity    float64
	TargetPrice float64
	OpenedAt    time.Time
}

// Trade 成交流水一条。
type Trade struct {
	Time     time.Time
	Side     string
	Price    float64
	Quantity float64
	PnL      float64 // 卖出时的已实现盈亏，买入为 0
}

// Tracker 维护持仓、成交流水与累计已实现盈亏。
// 所有变更都来自成交回报，控制环通过单一互斥点串行调用。
type Tracker struct {
	mu         sync.Mutex
	symbol     string
	pos        *Position
	trades     []Trade
	realized   float64
	tradeCount int
}

func NewTracker(symbol string) *Tracker {
	return &Tracker{symbol: symbol}
}

// Open 记录一笔买入成交并建仓。若已有持仓，先按 price 把旧仓强平掉
// （异常路径，返回被平的仓位供调用方告警），再开新仓。
func (t *Tracker) Open(price, qty float64, now time.Time) *Position {
	t.mu.Lock()
	defer t.mu.Unlock()

	var forced *Position
	if t.pos != nil {
		closed := *t.pos
		t.reduceLocked(price, t.pos.Quantity, now)
		forced = &closed
	}
	t.pos = &Position{
		Symbol:     t.symbol,
		EntryPrice: price,
		Quantity:   qty,
		OpenedAt:   now,
	}
	t.trades = append(t.trades, Trade{Time: now, Side: "BUY", Price: price, Quantity: qty})
	t.tradeCount++
	return forced
}

// SetTarget 设置止盈价。
func (t *Tracker) SetTarget(price float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos == nil {
		return ErrNoPosition
	}
	if price <= t.pos.EntryPrice {
		return fmt.Errorf("%w: %.8f <= entry %.8f", ErrTargetNotAboveEntry, price, t.pos.EntryPrice)
	}
	t.pos.TargetPrice = price
	return nil
}

// Reduce 记录一笔卖出成交，减仓或平仓，返回这笔的已实现盈亏。
func (t *Tracker) Reduce(price, qty float64, now time.Time) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos == nil {
		return 0, ErrNoPosition
	}
	return t.reduceLocked(price, qty, now), nil
}

func (t *Tracker) reduceLocked(price, qty float64, now time.Time) float64 {
	if qty > t.pos.Quantity {
		qty = t.pos.Quantity
	}
	pnl := (price - t.pos.EntryPrice) * qty
	t.realized += pnl
	t.trades = append(t.trades, Trade{Time: now, Side: "SELL", Price: price, Quantity: qty, PnL: pnl})
	t.tradeCount++

	t.pos.Quantity -= qty
	if t.pos.Quantity <= closeEpsilon {
		t.pos = nil
	}
	return pnl
}

// Current 返回当前持仓的拷贝。
func (t *Tracker) Current() (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos == nil {
		return Position{}, false
	}
	return *t.pos, true
}

// RealizedPnL 返回累计已实现盈亏。
func (t *Tracker) RealizedPnL() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realized
}

// Trades 返回成交流水拷贝。
func (t *Tracker) Trades() []Trade {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Trade, len(t.trades))
	copy(out, t.trades)
	return out
}

// TradeCount 返回累计成交笔数。
func (t *Tracker) TradeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tradeCount
}

// RestoreBookkeeping 从崩溃恢复快照回填流水与盈亏。
// 只恢复记账，不恢复持仓与挂单——那些以交易所对账为准。
func (t *Tracker) RestoreBookkeeping(trades []Trade, realized float64, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trades = append([]Trade(nil), trades...)
	t.realized = realized
	t.tradeCount = count
}
