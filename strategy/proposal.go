package strategy

import (
	"errors"
	"fmt"
	"sync"

	"market-quoter-go/gateway"
	"market-quoter-go/inventory"
	"market-quoter-go/num"
)

// PriceReference 选择报价的中心价来源。
type PriceReference string

const (
	RefMid PriceReference = "MID"
	RefBid PriceReference = "BID"
	RefAsk PriceReference = "ASK"
)

// Params 报价参数。可在运行中整体替换（热更）。
type Params struct {
	BidSpreadPct    float64        // 买侧价差（百分比）
	AskSpreadPct    float64        // 卖侧价差（百分比）
	OrderNotional   float64        // 每层名义（quote 资产计）
	PriceReference  PriceReference // 中心价来源
	Levels          int            // 报价层数，0 层最贴近盘口
	LevelSpreadStep float64        // 第 i 层价差乘数 = 1 + i×step
	PriceCeiling    float64        // 卖价上限，0 关闭
	PriceFloor      float64        // 买价下限，0 关闭
	MinOrderSize    float64        // 偏斜后低于该数量的层整层丢弃
	PricePrecision  int32
	LotPrecision    int32
}

func (p Params) validate() error {
	if p.BidSpreadPct <= 0 || p.AskSpreadPct <= 0 {
		return errors.New("bid/ask spread must be > 0")
	}
	if p.OrderNotional <= 0 {
		return errors.New("order notional must be > 0")
	}
	switch p.PriceReference {
	case RefMid, RefBid, RefAsk:
	default:
		return fmt.Errorf("unknown price reference %q", p.PriceReference)
	}
	if p.Levels < 1 {
		return errors.New("levels must be >= 1")
	}
	if p.LevelSpreadStep < 0 {
		return errors.New("level spread step must be >= 0")
	}
	return nil
}

// Level 单层期望挂单。
type Level struct {
	Price float64
	Size  float64
}

// Proposal 本轮期望的买卖挂单集合。瞬态值，每轮重算，从不落盘。
type Proposal struct {
	Bids []Level
	Asks []Level
}

func (p Proposal) Empty() bool {
	return len(p.Bids) == 0 && len(p.Asks) == 0
}

// Generator 由盘口快照生成目标报价。纯函数，无副作用。
type Generator struct {
	mu     sync.RWMutex
	params Params
}

func NewGenerator(p Params) (*Generator, error) {
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("strategy params: %w", err)
	}
	return &Generator{params: p}, nil
}

// Params 返回当前参数快照。
func (g *Generator) Params() Params {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.params
}

// SetParams 原子替换参数，热更入口。
func (g *Generator) SetParams(p Params) error {
	if err := p.validate(); err != nil {
		return fmt.Errorf("strategy params: %w", err)
	}
	g.mu.Lock()
	g.params = p
	g.mu.Unlock()
	return nil
}

// Generate 生成一份 Proposal。中心价不可用时返回空 Proposal，调用方按
// “什么都不做”处理。取整方向始终偏离盘口：买价下取整、卖价上取整，
// 实际价差只会比配置宽，不会更窄。
func (g *Generator) Generate(book gateway.Book, skew inventory.Multipliers) Proposal {
	p := g.Params()

	central := referencePrice(book, p.PriceReference)
	if central <= 0 {
		return Proposal{}
	}

	var prop Proposal
	for i := 0; i < p.Levels; i++ {
		mult := 1 + float64(i)*p.LevelSpreadStep
		bidSpread := p.BidSpreadPct * mult
		askSpread := p.AskSpreadPct * mult

		bid := num.Floor(central*(1-bidSpread/100), p.PricePrecision)
		ask := num.Ceil(central*(1+askSpread/100), p.PricePrecision)

		// 越界的层整层跳过——钳制会悄悄收窄配置的价差
		if bid > 0 && (p.PriceFloor <= 0 || bid >= p.PriceFloor) {
			if size := levelSize(p, bid, skew.Bid); size > 0 {
				prop.Bids = append(prop.Bids, Level{Price: bid, Size: size})
			}
		}
		if p.PriceCeiling <= 0 || ask <= p.PriceCeiling {
			if size := levelSize(p, ask, skew.Ask); size > 0 {
				prop.Asks = append(prop.Asks, Level{Price: ask, Size: size})
			}
		}
	}
	return prop
}

func referencePrice(book gateway.Book, ref PriceReference) float64 {
	switch ref {
	case RefBid:
		return book.BestBid()
	case RefAsk:
		return book.BestAsk()
	default:
		return book.Mid()
	}
}

func levelSize(p Params, price, mult float64) float64 {
	if price <= 0 {
		return 0
	}
	size := num.Floor(p.OrderNotional/price, p.LotPrecision)
	if size <= 0 {
		return 0
	}
	if mult == 1 {
		return size
	}
	size = num.Floor(size*mult, p.LotPrecision)
	if size <= 0 || size < p.MinOrderSize {
		return 0
	}
	return size
}
