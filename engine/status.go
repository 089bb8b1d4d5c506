package engine

import (
	"market-quoter-go/inventory"
	"market-quoter-go/order"
)

// Statistics 累计运行统计。
type Statistics struct {
	Cycles       int64
	TradeCount   int
	BreakerTrips int64
	Resumes      int64
}

// Status 引擎的一份一致性快照，供运维查询与日志落点使用。
type Status struct {
	State          State
	Symbol         string
	Position       *inventory.Position
	RestingOrders  []order.Order
	BreakerTripped bool
	RealizedPnL    float64
	Stats          Statistics
}

// Status 汇总当前状态。各组件各自加锁取快照，字段之间不保证同一瞬间。
func (l *Loop) Status() Status {
	l.stateMu.Lock()
	st := l.state
	l.stateMu.Unlock()

	s := Status{
		State:          st,
		Symbol:         l.cfg.Instrument.Symbol,
		RestingOrders:  l.executor.Resting(),
		BreakerTripped: l.breaker.Tripped(),
		RealizedPnL:    l.inventory.RealizedPnL(),
	}
	if pos, ok := l.inventory.Current(); ok {
		s.Position = &pos
	}
	trips, resumes := l.breaker.Counts()
	s.Stats = Statistics{
		Cycles:       l.cycles.Load(),
		TradeCount:   l.inventory.TradeCount(),
		BreakerTrips: trips,
		Resumes:      resumes,
	}
	return s
}
