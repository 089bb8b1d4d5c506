package order

import "time"

// Side values used across the quoting engine.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Status represents order lifecycle.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
	StatusExpired         Status = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Order 是交易所回报的挂单视图。只有下单结果、撤单结果或对账会改写它，
// 从不靠本地推测。
type Order struct {
	ID        string
	Symbol    string
	Side      string // BUY/SELL
	Price     float64
	Quantity  float64
	Filled    float64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the order may still rest on the exchange.
func (o Order) Active() bool {
	return !o.Status.Terminal()
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 {
	if o.Filled >= o.Quantity {
		return 0
	}
	return o.Quantity - o.Filled
}
