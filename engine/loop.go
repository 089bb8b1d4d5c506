// Package engine 实现单标的做市控制环：
// 行情快照 → 熔断 → 报价生成 → 刷新决策 → 风控 → 执行，一轮一个周期。
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"market-quoter-go/gateway"
	"market-quoter-go/inventory"
	"market-quoter-go/metrics"
	"market-quoter-go/order"
	"market-quoter-go/risk"
	"market-quoter-go/state"
	"market-quoter-go/strategy"
)

// State 引擎生命周期状态。
type State string

const (
	StateIdle    State = "IDLE"
	StateRunning State = "RUNNING"
	StateStopped State = "STOPPED"
)

// Config 引擎自身的配置，策略与风控参数在各自组件里。
type Config struct {
	Instrument   gateway.Instrument
	TickInterval time.Duration
	Depth        int // 盘口档数
}

// Components 引擎依赖的协作组件，全部由外部装配注入。
type Components struct {
	Market    gateway.MarketData
	Executor  *order.Executor
	Generator *strategy.Generator
	Refresh   strategy.RefreshPolicy
	Gate      *risk.Gate
	Breaker   *risk.Breaker
	Inventory *inventory.Tracker
	Skew      inventory.SkewConfig
	Fills     <-chan gateway.FillEvent // 可为 nil
	Store     *state.Store             // 可为 nil，关闭持久化
	Monitor   *metrics.Monitor
	Logger    *zap.Logger
}

func (c Components) validate() error {
	switch {
	case c.Market == nil:
		return errors.New("market data source is required")
	case c.Executor == nil:
		return errors.New("executor is required")
	case c.Generator == nil:
		return errors.New("generator is required")
	case c.Gate == nil:
		return errors.New("risk gate is required")
	case c.Breaker == nil:
		return errors.New("circuit breaker is required")
	case c.Inventory == nil:
		return errors.New("inventory tracker is required")
	case c.Monitor == nil:
		return errors.New("monitor is required")
	case c.Logger == nil:
		return errors.New("logger is required")
	}
	return nil
}

// Loop 是做市主循环。决策周期与成交回报在同一个 goroutine 里串行处理，
// 挂单表和持仓从不同时被两个写方触碰。
type Loop struct {
	cfg Config

	market    gateway.MarketData
	executor  *order.Executor
	generator *strategy.Generator
	gate      *risk.Gate
	breaker   *risk.Breaker
	inventory *inventory.Tracker
	fills     <-chan gateway.FillEvent
	store     *state.Store
	monitor   *metrics.Monitor
	log       *zap.Logger

	// 热更参数，读写都经过 mu
	mu      sync.RWMutex
	refresh strategy.RefreshPolicy
	skew    inventory.SkewConfig

	// 以下字段只被 run goroutine 触碰
	lastRefresh      time.Time
	needReconcile    bool
	forceRefresh     bool
	initialPortfolio float64

	cycles atomic.Int64 // Status() 会跨 goroutine 读

	stateMu  sync.Mutex
	state    State
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

func New(cfg Config, comps Components) (*Loop, error) {
	if cfg.Instrument.Symbol == "" {
		return nil, errors.New("instrument symbol is required")
	}
	if cfg.TickInterval <= 0 {
		return nil, errors.New("tick interval must be > 0")
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 5
	}
	if err := comps.validate(); err != nil {
		return nil, fmt.Errorf("engine components: %w", err)
	}
	return &Loop{
		cfg:       cfg,
		market:    comps.Market,
		executor:  comps.Executor,
		generator: comps.Generator,
		gate:      comps.Gate,
		breaker:   comps.Breaker,
		inventory: comps.Inventory,
		fills:     comps.Fills,
		store:     comps.Store,
		monitor:   comps.Monitor,
		log:       comps.Logger,
		refresh:   comps.Refresh,
		skew:      comps.Skew,
		state:     StateIdle,
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}, nil
}

// SetRefreshPolicy 热更刷新策略。
func (l *Loop) SetRefreshPolicy(p strategy.RefreshPolicy) {
	l.mu.Lock()
	l.refresh = p
	l.mu.Unlock()
}

// SetSkew 热更库存偏斜参数。
func (l *Loop) SetSkew(cfg inventory.SkewConfig) {
	l.mu.Lock()
	l.skew = cfg
	l.mu.Unlock()
}

func (l *Loop) refreshPolicy() strategy.RefreshPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refresh
}

func (l *Loop) skewConfig() inventory.SkewConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.skew
}

// Start 启动引擎：先对账（失败即启动失败，先前挂单状态未知不能盲跑），
// 再恢复记账快照，然后进入主循环。
func (l *Loop) Start(ctx context.Context) error {
	l.stateMu.Lock()
	if l.state != StateIdle {
		l.stateMu.Unlock()
		return fmt.Errorf("engine already %s", l.state)
	}
	l.state = StateRunning
	l.stateMu.Unlock()

	if err := l.executor.Reconcile(ctx); err != nil {
		l.setState(StateStopped)
		return fmt.Errorf("startup reconcile: %w", err)
	}

	snap, ok, err := state.Load(ctx, l.store)
	if err != nil {
		l.log.Warn("snapshot load failed, starting with empty bookkeeping", zap.Error(err))
	} else if ok {
		l.inventory.RestoreBookkeeping(snap.Trades, snap.CumulativePnL, snap.TradeCount)
		l.initialPortfolio = snap.InitialPortfolioValue
		l.log.Info("bookkeeping restored from snapshot",
			zap.Int("trades", len(snap.Trades)),
			zap.Float64("realized_pnl", snap.CumulativePnL))
	}

	l.log.Info("engine started",
		zap.String("symbol", l.cfg.Instrument.Symbol),
		zap.Duration("tick_interval", l.cfg.TickInterval))
	go l.run(ctx)
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cycle(ctx)
		case ev, ok := <-l.fills:
			if !ok {
				l.fills = nil
				continue
			}
			l.onFill(ctx, ev)
		}
	}
}

// Stop 有序停机：退出主循环后尽力撤掉全部挂单，再落一次快照。
// 从未启动的引擎直接置为 Stopped，没有 run goroutine 可等。
func (l *Loop) Stop(ctx context.Context) error {
	l.stateMu.Lock()
	if l.state == StateIdle {
		l.state = StateStopped
		l.stateMu.Unlock()
		return nil
	}
	l.stateMu.Unlock()

	l.stopOnce.Do(func() { close(l.stopChan) })
	select {
	case <-l.doneChan:
	case <-ctx.Done():
		return ctx.Err()
	}

	n, err := l.executor.CancelAll(ctx)
	if err != nil {
		l.log.Error("cancel all on shutdown incomplete", zap.Int("canceled", n), zap.Error(err))
	} else {
		l.log.Info("all orders canceled on shutdown", zap.Int("canceled", n))
	}
	l.persist(ctx)
	l.setState(StateStopped)
	l.log.Info("engine stopped")
	return err
}

func (l *Loop) setState(s State) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

// cycle 执行一轮决策。任何一步失败都跳过本轮，等下一个 tick，
// 行情和余额读取从不重试。
func (l *Loop) cycle(ctx context.Context) {
	started := time.Now()
	defer func() {
		l.monitor.CycleDuration.Observe(time.Since(started).Seconds())
		l.cycles.Add(1)
	}()

	book, err := l.market.TopOfBook(ctx, l.cfg.Instrument.Symbol, l.cfg.Depth)
	if err != nil {
		l.monitor.CycleErrors.Inc()
		l.log.Warn("order book fetch failed, skipping cycle", zap.Error(err))
		return
	}
	mid := book.Mid()
	if mid <= 0 {
		l.monitor.CycleErrors.Inc()
		l.log.Warn("order book invalid, skipping cycle",
			zap.Float64("best_bid", book.BestBid()),
			zap.Float64("best_ask", book.BestAsk()))
		return
	}
	spread := book.SpreadPct()
	l.monitor.MidPrice.Set(mid)
	l.monitor.SpreadPct.Set(spread)

	if !l.checkBreaker(ctx, spread) {
		return
	}
	if l.needReconcile {
		if err := l.executor.Reconcile(ctx); err != nil {
			l.log.Error("reconcile retry failed", zap.Error(err))
			return
		}
		l.needReconcile = false
	}

	balances, err := l.market.Balances(ctx)
	if err != nil {
		l.monitor.CycleErrors.Inc()
		l.log.Warn("balance fetch failed, skipping cycle", zap.Error(err))
		return
	}
	funds := newFunds(balances, l.cfg.Instrument)
	if l.initialPortfolio == 0 {
		l.initialPortfolio = funds.baseTotal*mid + funds.quoteTotal
	}

	mults := l.skewConfig().Skew(funds.baseTotal, funds.quoteTotal, mid)
	prop := l.generator.Generate(book, mults)
	l.monitor.QuotesGenerated.Inc()
	if prop.Empty() {
		return
	}

	resting := l.executor.Resting()
	l.monitor.RestingOrders.Set(float64(len(resting)))

	now := time.Now()
	decision := l.refreshPolicy().Decide(now, prop, resting, l.lastRefresh)
	if l.forceRefresh {
		decision = strategy.Decision{Refresh: true, Reason: "post-resume requote"}
	}
	if !decision.Refresh {
		l.log.Debug("holding quotes", zap.String("reason", decision.Reason))
		return
	}
	l.log.Debug("refreshing quotes",
		zap.String("reason", decision.Reason),
		zap.Int("bids", len(prop.Bids)),
		zap.Int("asks", len(prop.Asks)))

	l.executeSide(ctx, order.SideBuy, prop.Bids, funds)
	l.executeSide(ctx, order.SideSell, prop.Asks, funds)
	l.lastRefresh = now
	l.forceRefresh = false
	l.monitor.RestingOrders.Set(float64(len(l.executor.Resting())))
	l.persist(ctx)
}

// checkBreaker 处理熔断边沿，返回本轮是否可以继续报价。
func (l *Loop) checkBreaker(ctx context.Context, spreadPct float64) bool {
	switch l.breaker.Observe(spreadPct) {
	case risk.TransitionTripped:
		l.monitor.BreakerTrips.Inc()
		l.monitor.BreakerState.Set(1)
		l.log.Error("circuit breaker tripped, canceling all orders",
			zap.Float64("spread_pct", spreadPct))
		if n, err := l.executor.CancelAll(ctx); err != nil {
			// 撤不掉的单留在本地表里，恢复后对账兜底
			l.log.Error("cancel all under breaker incomplete", zap.Int("canceled", n), zap.Error(err))
		}
		return false
	case risk.TransitionResumed:
		l.monitor.BreakerState.Set(0)
		// 熔断期间撤不掉的单可能还在场，恢复后必须整轮重报，
		// 不能让旧挂单靠间隔/容忍护栏混过去当作现报价
		l.forceRefresh = true
		l.log.Warn("circuit breaker resumed, reconciling", zap.Float64("spread_pct", spreadPct))
		if err := l.executor.Reconcile(ctx); err != nil {
			l.needReconcile = true
			l.log.Error("post-resume reconcile failed", zap.Error(err))
			return false
		}
		return true
	}
	return !l.breaker.Tripped()
}

// availableFunds 是一轮执行期间的资金工作副本，每下一单就地扣减，
// 保证同一轮内多层挂单不会重复花同一笔钱。
type availableFunds struct {
	baseAvail  float64
	quoteAvail float64
	baseTotal  float64
	quoteTotal float64
}

func newFunds(balances []gateway.Balance, inst gateway.Instrument) *availableFunds {
	f := &availableFunds{}
	for _, b := range balances {
		switch b.Asset {
		case inst.BaseAsset:
			f.baseAvail = b.Available
			f.baseTotal = b.Total()
		case inst.QuoteAsset:
			f.quoteAvail = b.Available
			f.quoteTotal = b.Total()
		}
	}
	return f
}

func (f *availableFunds) spend(side string, price, qty float64) {
	if side == order.SideBuy {
		f.quoteAvail -= price * qty
		return
	}
	f.baseAvail -= qty
}

func (f *availableFunds) credit(base, quote float64) {
	f.baseAvail += base
	f.quoteAvail += quote
}

// executeSide 把一侧的期望层位落到交易所：逐层过风控、改单或补单，
// 多余的现存挂单撤掉。改单丢单时立即按最新价重下，不留空侧。
func (l *Loop) executeSide(ctx context.Context, side string, levels []strategy.Level, funds *availableFunds) {
	resting := l.executor.RestingBySide(side)

	placed := 0
	for _, lvl := range levels {
		// 改单会先撤旧单，旧单占用的资金随之释放，
		// 风控要按释放后的口径检查，否则每次改单都显得钱不够
		var freedBase, freedQuote float64
		if placed < len(resting) {
			existing := resting[placed]
			if side == order.SideBuy {
				freedQuote = existing.Price * existing.Remaining()
			} else {
				freedBase = existing.Remaining()
			}
		}

		res := l.gate.Check(side, lvl.Price, lvl.Size, funds.baseAvail+freedBase, funds.quoteAvail+freedQuote)
		if !res.Approved {
			l.monitor.RiskRejects.Inc()
			l.log.Debug("level rejected by risk gate",
				zap.String("side", side),
				zap.Float64("price", lvl.Price),
				zap.String("reason", res.Reason))
			continue
		}
		qty := res.Quantity

		if placed < len(resting) {
			existing := resting[placed]
			if existing.Price == lvl.Price && existing.Remaining() == qty {
				placed++
				continue
			}
			if _, err := l.executor.Replace(ctx, existing.ID, lvl.Price, qty); err != nil {
				if errors.Is(err, order.ErrReplacementLost) {
					// 旧单已撤、新单失败，该侧空了，立刻补
					l.monitor.ReplacementsLost.Inc()
					l.log.Warn("replacement lost, placing fresh order",
						zap.String("side", side), zap.Error(err))
					if _, err := l.executor.Place(ctx, side, lvl.Price, qty); err != nil {
						l.monitor.OrdersRejected.Inc()
						l.log.Error("fresh order after lost replacement failed", zap.Error(err))
						funds.credit(freedBase, freedQuote)
						placed++
						continue
					}
				} else {
					// 撤单失败，旧单仍然在场，本层不动
					l.log.Warn("replace failed, keeping existing order",
						zap.String("order_id", existing.ID), zap.Error(err))
					placed++
					continue
				}
			}
			l.monitor.OrdersPlaced.Inc()
			funds.credit(freedBase, freedQuote)
		} else {
			if _, err := l.executor.Place(ctx, side, lvl.Price, qty); err != nil {
				l.monitor.OrdersRejected.Inc()
				l.log.Warn("place failed",
					zap.String("side", side),
					zap.Float64("price", lvl.Price),
					zap.Error(err))
				continue
			}
			l.monitor.OrdersPlaced.Inc()
		}
		funds.spend(side, lvl.Price, qty)
		placed++
	}

	// 期望层数之外的挂单是上一轮的残留
	for _, o := range resting[min(placed, len(resting)):] {
		if err := l.executor.Cancel(ctx, o.ID); err != nil {
			l.log.Warn("cancel excess order failed", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		l.monitor.OrdersCanceled.Inc()
	}
}

// onFill 处理一条成交回报。只有首次进入 FILLED 终态才会驱动持仓变化，
// 重复投递在挂单表层面就被吸收掉了。
func (l *Loop) onFill(ctx context.Context, ev gateway.FillEvent) {
	f := order.Fill{
		OrderID: ev.OrderID,
		Side:    ev.Side,
		Price:   ev.Price,
		Filled:  ev.FilledQuantity,
		Status:  order.Status(ev.Status),
	}
	snap, terminal := l.executor.ApplyFill(f)
	if !terminal {
		return
	}
	l.monitor.FillsApplied.Inc()
	l.monitor.RestingOrders.Set(float64(len(l.executor.Resting())))

	// 持仓按实际成交量入账。部分成交后被撤/拒/过期的订单，
	// 已成交的那部分库存同样真实存在，不能因为终态不是 FILLED 就丢掉
	executed := snap.Filled
	if snap.Status != order.StatusFilled {
		l.log.Info("order reached terminal state",
			zap.String("order_id", snap.ID),
			zap.String("status", string(snap.Status)),
			zap.Float64("executed", executed))
		if executed <= 0 {
			return
		}
	}

	now := time.Now()
	price := ev.Price
	if price <= 0 {
		price = snap.Price
	}

	switch snap.Side {
	case order.SideBuy:
		if forced := l.inventory.Open(price, executed, now); forced != nil {
			l.log.Error("existing position force closed before opening new one",
				zap.Float64("closed_qty", forced.Quantity),
				zap.Float64("closed_entry", forced.EntryPrice),
				zap.Float64("close_price", price))
		}
		target := price * (1 + l.generator.Params().AskSpreadPct/100)
		if err := l.inventory.SetTarget(target); err != nil {
			l.log.Warn("target exit not set", zap.Error(err))
		}
		l.log.Info("position opened",
			zap.Float64("entry", price),
			zap.Float64("qty", executed),
			zap.Float64("target", target))
	case order.SideSell:
		pnl, err := l.inventory.Reduce(price, executed, now)
		if err != nil {
			l.log.Error("sell fill without open position", zap.String("order_id", snap.ID), zap.Error(err))
			break
		}
		l.log.Info("position reduced",
			zap.Float64("price", price),
			zap.Float64("qty", executed),
			zap.Float64("pnl", pnl))
	}

	if pos, ok := l.inventory.Current(); ok {
		l.monitor.Position.Set(pos.Quantity)
	} else {
		l.monitor.Position.Set(0)
	}
	l.monitor.RealizedPnL.Set(l.inventory.RealizedPnL())
	l.persist(ctx)
}

// persist 尽力落一次快照，失败只告警，绝不打断交易路径。
func (l *Loop) persist(ctx context.Context) {
	snap := state.Snapshot{
		TimestampMS:           time.Now().UnixMilli(),
		Symbol:                l.cfg.Instrument.Symbol,
		ActiveOrders:          l.executor.Resting(),
		Trades:                l.inventory.Trades(),
		InitialPortfolioValue: l.initialPortfolio,
		CumulativePnL:         l.inventory.RealizedPnL(),
		TradeCount:            l.inventory.TradeCount(),
	}
	if err := state.Save(ctx, l.store, snap); err != nil {
		l.log.Warn("snapshot save failed", zap.Error(err))
	}
}
