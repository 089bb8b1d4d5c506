package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-quoter-go/order"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPaperUnknownOrder = errors.New("unknown order")
)

// PaperVenue 进程内模拟交易所，用于 dry-run 与联调。
// 实现行情读取与订单执行两份契约：挂单占用资金、盘口穿越即按限价成交、
// 成交经 Fills 通道推送，语义与真实场所一致。
type PaperVenue struct {
	inst Instrument
	log  *zap.Logger

	mu    sync.Mutex
	seq   int
	book  Book
	open  map[string]*order.Order
	base  Balance
	quote Balance

	fills chan FillEvent
}

// NewPaperVenue 创建模拟场所并设定初始资金与盘口。
func NewPaperVenue(inst Instrument, baseFunds, quoteFunds float64, book Book, log *zap.Logger) *PaperVenue {
	return &PaperVenue{
		inst:  inst,
		log:   log,
		book:  book,
		open:  make(map[string]*order.Order),
		base:  Balance{Asset: inst.BaseAsset, Available: baseFunds},
		quote: Balance{Asset: inst.QuoteAsset, Available: quoteFunds},
		fills: make(chan FillEvent, 64),
	}
}

// Fills 返回成交回报通道。
func (p *PaperVenue) Fills() <-chan FillEvent {
	return p.fills
}

func (p *PaperVenue) TopOfBook(_ context.Context, symbol string, _ int) (Book, error) {
	if symbol != p.inst.Symbol {
		return Book{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.book, nil
}

func (p *PaperVenue) Balances(_ context.Context) ([]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return []Balance{p.base, p.quote}, nil
}

func (p *PaperVenue) PlaceOrder(_ context.Context, symbol, side, _ string, quantity, price float64) (order.Order, error) {
	if symbol != p.inst.Symbol {
		return order.Order{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	if price <= 0 || quantity <= 0 {
		return order.Order{}, fmt.Errorf("invalid order %f@%f", quantity, price)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 资金锁定，与真实场所一致：买锁 quote，卖锁 base
	switch side {
	case order.SideBuy:
		cost := price * quantity
		if cost > p.quote.Available {
			return order.Order{}, fmt.Errorf("%w: need %.8f %s", ErrInsufficientFunds, cost, p.inst.QuoteAsset)
		}
		p.quote.Available -= cost
		p.quote.Locked += cost
	case order.SideSell:
		if quantity > p.base.Available {
			return order.Order{}, fmt.Errorf("%w: need %.8f %s", ErrInsufficientFunds, quantity, p.inst.BaseAsset)
		}
		p.base.Available -= quantity
		p.base.Locked += quantity
	default:
		return order.Order{}, fmt.Errorf("unknown side %q", side)
	}

	p.seq++
	o := &order.Order{
		ID:        fmt.Sprintf("paper-%d", p.seq),
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    order.StatusNew,
		CreatedAt: time.Now(),
	}
	p.open[o.ID] = o
	p.matchLocked()
	return *o, nil
}

func (p *PaperVenue) CancelOrder(_ context.Context, _ string, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.open[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPaperUnknownOrder, orderID)
	}
	switch o.Side {
	case order.SideBuy:
		cost := o.Price * o.Remaining()
		p.quote.Locked -= cost
		p.quote.Available += cost
	case order.SideSell:
		p.base.Locked -= o.Remaining()
		p.base.Available += o.Remaining()
	}
	delete(p.open, orderID)
	return nil
}

func (p *PaperVenue) OpenOrders(_ context.Context, symbol string) ([]order.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]order.Order, 0, len(p.open))
	for _, o := range p.open {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out, nil
}

// SetBook 替换盘口并撮合被穿越的挂单。
func (p *PaperVenue) SetBook(book Book) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.book = book
	p.matchLocked()
}

// matchLocked 按限价全量成交所有被盘口穿越的挂单：
// 买单限价 >= 最优卖价、卖单限价 <= 最优买价。挂单方假设，按自己的限价结算。
func (p *PaperVenue) matchLocked() {
	bestBid, bestAsk := p.book.BestBid(), p.book.BestAsk()
	for id, o := range p.open {
		crossed := (o.Side == order.SideBuy && bestAsk > 0 && o.Price >= bestAsk) ||
			(o.Side == order.SideSell && bestBid > 0 && o.Price <= bestBid)
		if !crossed {
			continue
		}

		switch o.Side {
		case order.SideBuy:
			cost := o.Price * o.Quantity
			p.quote.Locked -= cost
			p.base.Available += o.Quantity
		case order.SideSell:
			p.base.Locked -= o.Quantity
			p.quote.Available += o.Price * o.Quantity
		}
		delete(p.open, id)

		ev := FillEvent{
			OrderID:        o.ID,
			Side:           o.Side,
			Price:          o.Price,
			FilledQuantity: o.Quantity,
			Status:         string(order.StatusFilled),
			EventTimeMS:    time.Now().UnixMilli(),
		}
		select {
		case p.fills <- ev:
		default:
			if p.log != nil {
				p.log.Warn("fill channel full, dropping event", zap.String("order_id", o.ID))
			}
		}
	}
}

// Drive 启动一个随机游走的价格驱动，直到 ctx 取消。dry-run 专用。
func (p *PaperVenue) Drive(ctx context.Context, interval time.Duration, stepPct float64) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.mu.Lock()
				mid := p.book.Mid()
				if mid <= 0 {
					p.mu.Unlock()
					continue
				}
				spread := p.book.BestAsk() - p.book.BestBid()
				drift := mid * stepPct / 100 * (rng.Float64()*2 - 1)
				mid += drift
				p.book = Book{
					Bids: []PriceLevel{{Price: mid - spread/2, Quantity: 10}},
					Asks: []PriceLevel{{Price: mid + spread/2, Quantity: 10}},
				}
				p.matchLocked()
				p.mu.Unlock()
			}
		}
	}()
}
