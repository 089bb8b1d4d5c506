package risk

import (
	"sync"
	"time"
)

// Transition 标记熔断状态机的边沿。
type Transition int

const (
	TransitionNone Transition = iota
	TransitionTripped
	TransitionResumed
)

func (t Transition) String() string {
	switch t {
	case TransitionTripped:
		return "TRIPPED"
	case TransitionResumed:
		return "RESUMED"
	default:
		return "NONE"
	}
}

// Breaker 双边价差带熔断。价差过宽是行情异常，过窄同样可疑——
// 可能是坏数据或操纵信号，所以是区间而不是单边上限。
type Breaker struct {
	minPct float64
	maxPct float64

	mu             sync.Mutex
	tripped        bool
	trips          int64
	resumes        int64
	lastTransition time.Time
}

func NewBreaker(minPct, maxPct float64) *Breaker {
	return &Breaker{minPct: minPct, maxPct: maxPct}
}

// Observe 输入本轮价差（百分比），返回发生的边沿。
// 边沿是仅有的两处状态变更点。
func (b *Breaker) Observe(spreadPct float64) Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	outside := spreadPct < b.minPct || spreadPct > b.maxPct
	switch {
	case outside && !b.tripped:
		b.tripped = true
		b.trips++
		b.lastTransition = time.Now()
		return TransitionTripped
	case !outside && b.tripped:
		b.tripped = false
		b.resumes++
		b.lastTransition = time.Now()
		return TransitionResumed
	}
	return TransitionNone
}

// Tripped 返回当前是否处于熔断。
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// Counts 返回累计熔断/恢复次数。
func (b *Breaker) Counts() (trips, resumes int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips, b.resumes
}
