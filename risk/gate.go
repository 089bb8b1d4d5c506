package risk

import (
	"fmt"
	"sync"

	"market-quoter-go/num"
	"market-quoter-go/order"
)

// GateConfig 下单前检查参数。
type GateConfig struct {
	MaxOrderValue float64 // 单笔名义上限（fat-finger），0 关闭
	MinOrderSize  float64 // 最小下单数量
	SafetyMargin  float64 // 资金收敛系数，默认 0.95
	LotPrecision  int32
}

// Result 检查结论。Quantity 为通过时允许的数量，可能比请求小；
// 拒绝时为 0，Reason 带具体数值方便排查。
type Result struct {
	Approved bool
	Quantity float64
	Reason   string
}

// Gate 对每笔候选订单做无状态检查：大额、资金、最小数量，按序短路。
// 纯判定，从不改写订单或余额状态。
type Gate struct {
	mu  sync.RWMutex
	cfg GateConfig
}

func NewGate(cfg GateConfig) *Gate {
	if cfg.SafetyMargin <= 0 || cfg.SafetyMargin > 1 {
		cfg.SafetyMargin = 0.95
	}
	return &Gate{cfg: cfg}
}

// Config 返回当前配置快照。
func (g *Gate) Config() GateConfig {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// SetConfig 原子替换配置，热更入口。
func (g *Gate) SetConfig(cfg GateConfig) {
	if cfg.SafetyMargin <= 0 || cfg.SafetyMargin > 1 {
		cfg.SafetyMargin = 0.95
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

func reject(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Check 检查一笔候选订单。资金不足时尝试按可用资金×安全系数收敛数量，
// 收敛后仍够最小数量则放行，否则拒绝。
func (g *Gate) Check(side string, price, qty, baseAvailable, quoteAvailable float64) Result {
	cfg := g.Config()

	if price <= 0 || qty <= 0 {
		return reject("non-positive price %.8f or quantity %.8f", price, qty)
	}

	// 1. fat-finger
	if cfg.MaxOrderValue > 0 {
		if value := price * qty; value > cfg.MaxOrderValue {
			return reject("order value %v exceeds limit %v", value, cfg.MaxOrderValue)
		}
	}

	// 2. 资金充足性
	adjusted := qty
	switch side {
	case order.SideBuy:
		required := price * qty
		if required > quoteAvailable {
			adjusted = num.Floor(quoteAvailable/price*cfg.SafetyMargin, cfg.LotPrecision)
			if adjusted <= 0 || adjusted < cfg.MinOrderSize {
				return reject("insufficient funds: need %.8f quote, available %.8f", required, quoteAvailable)
			}
		}
	case order.SideSell:
		if qty > baseAvailable {
			adjusted = num.Floor(baseAvailable*cfg.SafetyMargin, cfg.LotPrecision)
			if adjusted <= 0 || adjusted < cfg.MinOrderSize {
				return reject("insufficient funds: need %.8f base, available %.8f", qty, baseAvailable)
			}
		}
	default:
		return reject("unknown side %q", side)
	}

	// 3. 最小数量
	if adjusted < cfg.MinOrderSize {
		return reject("quantity %.8f below minimum %.8f", adjusted, cfg.MinOrderSize)
	}

	return Result{Approved: true, Quantity: adjusted}
}
