package gateway

import "context"

// PriceLevel is one price/quantity pair of an order book side.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// Book 顶档快照。每轮整体替换，从不按字段合并。
type Book struct {
	Bids []PriceLevel // 按价格从优到劣排序
	Asks []PriceLevel
}

// BestBid returns the highest bid price, 0 when the side is empty.
func (b Book) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, 0 when the side is empty.
func (b Book) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// Mid 返回中间价；任一侧缺失时返回 0，调用方视为本轮不可用。
func (b Book) Mid() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// SpreadPct 返回 (ask-bid)/bid×100；盘口无效时返回 0。
func (b Book) SpreadPct() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (ask - bid) / bid * 100
}

// Balance is one asset balance from the account snapshot.
type Balance struct {
	Asset     string
	Available float64
	Locked    float64
}

// Total returns available + locked.
func (b Balance) Total() float64 {
	return b.Available + b.Locked
}

// Instrument 显式携带 base/quote 资产与精度，不从 symbol 字符串推断。
type Instrument struct {
	Symbol         string
	BaseAsset      string
	QuoteAsset     string
	PricePrecision int32
	LotPrecision   int32
}

// MarketData is the read side of the exchange contract. Implementations own
// call-level timeouts; the quoting core never retries these.
type MarketData interface {
	TopOfBook(ctx context.Context, symbol string, depth int) (Book, error)
	Balances(ctx context.Context) ([]Balance, error)
}

// FillEvent 推送侧的订单回报。至少一次投递，可能重复；
// 消费方必须把同一订单的重复终态当作幂等空操作。
type FillEvent struct {
	OrderID        string
	Side           string
	Price          float64
	FilledQuantity float64
	Status         string
	EventTimeMS    int64
}
