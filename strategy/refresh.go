package strategy

import (
	"fmt"
	"math"
	"time"

	"market-quoter-go/order"
)

// RefreshPolicy 决定本轮要不要动挂单。三段式：
// 慢速周期兜底 + 价格漂移阈值触发 + 挂单高龄强制替换。
// 每个 tick 都换单会打爆交易所限流，只按定时器换单又跟不上行情。
type RefreshPolicy struct {
	Interval     time.Duration // 两次刷新之间的最小间隔
	TolerancePct float64       // 价格漂移容忍度（百分比）
	MaxOrderAge  time.Duration // 挂单最大存活时间，0 关闭
}

// Decision 带上第一条命中的规则，方便日志归因。
type Decision struct {
	Refresh bool
	Reason  string
}

// Decide 按既定顺序评估规则，第一条命中即返回。
// 高龄检查在间隔检查之前：陈旧性优先于限流礼让。
func (p RefreshPolicy) Decide(now time.Time, prop Proposal, resting []order.Order, lastRefresh time.Time) Decision {
	if len(resting) == 0 {
		return Decision{Refresh: true, Reason: "no resting orders"}
	}

	if p.MaxOrderAge > 0 {
		for _, o := range resting {
			if age := now.Sub(o.CreatedAt); age > p.MaxOrderAge {
				return Decision{
					Refresh: true,
					Reason:  fmt.Sprintf("order %s age %s exceeds max %s", o.ID, age.Truncate(time.Millisecond), p.MaxOrderAge),
				}
			}
		}
	}

	if p.Interval > 0 && now.Sub(lastRefresh) < p.Interval {
		return Decision{Refresh: false, Reason: "within refresh interval"}
	}

	// 只比较最贴近盘口的一层
	if len(prop.Bids) > 0 {
		if d, ok := p.sideDrift(prop.Bids[0].Price, bestResting(resting, order.SideBuy)); !ok {
			return Decision{Refresh: true, Reason: "no resting bid"}
		} else if d > p.TolerancePct {
			return Decision{Refresh: true, Reason: fmt.Sprintf("bid drift %.4f%% exceeds %.4f%%", d, p.TolerancePct)}
		}
	}
	if len(prop.Asks) > 0 {
		if d, ok := p.sideDrift(prop.Asks[0].Price, bestResting(resting, order.SideSell)); !ok {
			return Decision{Refresh: true, Reason: "no resting ask"}
		} else if d > p.TolerancePct {
			return Decision{Refresh: true, Reason: fmt.Sprintf("ask drift %.4f%% exceeds %.4f%%", d, p.TolerancePct)}
		}
	}
	return Decision{Refresh: false, Reason: "within tolerance"}
}

// sideDrift 返回 proposed 相对现存最优挂单的偏移（百分比）。
func (p RefreshPolicy) sideDrift(proposed float64, restingPrice float64) (float64, bool) {
	if restingPrice <= 0 {
		return 0, false
	}
	return math.Abs(proposed-restingPrice) / restingPrice * 100, true
}

func bestResting(resting []order.Order, side string) float64 {
	best := 0.0
	for _, o := range resting {
		if o.Side != side {
			continue
		}
		if best == 0 {
			best = o.Price
			continue
		}
		if side == order.SideBuy && o.Price > best {
			best = o.Price
		}
		if side == order.SideSell && o.Price < best {
			best = o.Price
		}
	}
	return best
}
