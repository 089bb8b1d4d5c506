package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Exchange 是执行器依赖的最小交易所契约；传输、签名、超时都在实现侧。
type Exchange interface {
	PlaceOrder(ctx context.Context, symbol, side, orderType string, quantity, price float64) (Order, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
}

// RateLimiter 在发出变更类请求前等待额度。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

var (
	// ErrReplacementLost 表示改单撤成功但新单失败：该侧已无挂单，
	// 调用方应立即按最新报价重新下单，而不是当作旧单还在。
	ErrReplacementLost = errors.New("replacement lost")
	ErrUnknownOrder    = errors.New("unknown order")
)

// Executor 独占持有本地挂单表，负责下单、撤单、改单（先撤后挂）与对账。
// 传输层错误原样上抛，重试与退避是控制环的决策，不在这里做。
type Executor struct {
	symbol  string
	ex      Exchange
	limiter RateLimiter // 可为 nil
	log     *zap.Logger

	mu     sync.Mutex
	orders map[string]*Order
}

func NewExecutor(symbol string, ex Exchange, limiter RateLimiter, log *zap.Logger) *Executor {
	return &Executor{
		symbol:  symbol,
		ex:      ex,
		limiter: limiter,
		log:     log,
		orders:  make(map[string]*Order),
	}
}

func (e *Executor) wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// Place 提交限价单；成功后按交易所返回的 ID 登记，失败不登记不重试。
func (e *Executor) Place(ctx context.Context, side string, price, qty float64) (Order, error) {
	if err := e.wait(ctx); err != nil {
		return Order{}, err
	}
	o, err := e.ex.PlaceOrder(ctx, e.symbol, side, "LIMIT", qty, price)
	if err != nil {
		return Order{}, fmt.Errorf("place %s %.8f@%.8f: %w", side, qty, price, err)
	}
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusNew
	}
	e.mu.Lock()
	e.orders[o.ID] = &o
	e.mu.Unlock()

	e.log.Debug("order placed",
		zap.String("order_id", o.ID),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("qty", qty))
	return o, nil
}

// Cancel 撤掉一个已知订单。撤单失败时保留本地记录：订单可能仍然在场。
func (e *Executor) Cancel(ctx context.Context, orderID string) error {
	e.mu.Lock()
	_, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return ErrUnknownOrder
	}
	if err := e.wait(ctx); err != nil {
		return err
	}
	if err := e.ex.CancelOrder(ctx, e.symbol, orderID); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	e.mu.Lock()
	delete(e.orders, orderID)
	e.mu.Unlock()

	e.log.Debug("order canceled", zap.String("order_id", orderID))
	return nil
}

// Replace 以严格的先撤后挂实现改单，交易所没有原生改单原语。
// 三种结局：成功；撤单失败（原单不动，返回撤单错误）；
// 撤成功但新单失败（返回 ErrReplacementLost，该侧已空）。
func (e *Executor) Replace(ctx context.Context, orderID string, price, qty float64) (Order, error) {
	e.mu.Lock()
	old, ok := e.orders[orderID]
	var side string
	if ok {
		side = old.Side
	}
	e.mu.Unlock()
	if !ok {
		return Order{}, ErrUnknownOrder
	}

	if err := e.Cancel(ctx, orderID); err != nil {
		return Order{}, err
	}
	o, err := e.Place(ctx, side, price, qty)
	if err != nil {
		return Order{}, fmt.Errorf("%w: after canceling %s: %v", ErrReplacementLost, orderID, err)
	}
	return o, nil
}

// CancelAll 尽力撤掉所有活跃订单，返回成功数量与合并错误。
func (e *Executor) CancelAll(ctx context.Context) (int, error) {
	ids := make([]string, 0)
	e.mu.Lock()
	for id, o := range e.orders {
		if o.Active() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	canceled := 0
	var errs []error
	for _, id := range ids {
		if err := e.Cancel(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		canceled++
	}
	return canceled, errors.Join(errs...)
}

// Reconcile 用交易所的在途订单列表整体替换本地挂单表。
// 用于启动时（先前状态未知）和熔断恢复后（停摆期间状态未知）。
func (e *Executor) Reconcile(ctx context.Context) error {
	remote, err := e.ex.OpenOrders(ctx, e.symbol)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", e.symbol, err)
	}
	m := make(map[string]*Order, len(remote))
	for i := range remote {
		o := remote[i]
		if o.Status == "" {
			o.Status = StatusNew
		}
		m[o.ID] = &o
	}
	e.mu.Lock()
	e.orders = m
	e.mu.Unlock()

	e.log.Info("order map reconciled",
		zap.String("symbol", e.symbol),
		zap.Int("open_orders", len(remote)))
	return nil
}

// Resting 返回所有活跃订单的拷贝。
func (e *Executor) Resting() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		if o.Active() {
			out = append(out, *o)
		}
	}
	return out
}

// RestingBySide 返回某一侧的活跃订单，按离盘口从近到远排序
// （买单价格降序，卖单价格升序）。
func (e *Executor) RestingBySide(side string) []Order {
	all := e.Resting()
	out := all[:0]
	for _, o := range all {
		if o.Side == side {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if side == SideBuy {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// Get returns a copy of one tracked order.
func (e *Executor) Get(orderID string) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return Order{}, false
	}
	return *o, true
}
