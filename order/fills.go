package order

import "time"

// Fill 是推送回报折算后的状态增量。
type Fill struct {
	OrderID string
	Side    string
	Price   float64
	Filled  float64
	Status  Status
}

// ApplyFill 应用一次回报。成交量只增不减，终态订单从挂单表移除；
// 同一订单的重复终态投递因为表里已无条目而自然成为空操作。
// 返回应用后的订单快照，以及本次是否首次进入终态。
func (e *Executor) ApplyFill(f Fill) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[f.OrderID]
	if !ok {
		// 未知订单或已清理的终态重复投递
		return Order{}, false
	}
	if f.Filled > o.Filled {
		o.Filled = f.Filled
	}
	if o.Filled > o.Quantity {
		o.Filled = o.Quantity
	}
	o.UpdatedAt = time.Now()

	if f.Status.Terminal() {
		o.Status = f.Status
		if f.Status == StatusFilled {
			o.Filled = o.Quantity
		}
		snap := *o
		delete(e.orders, f.OrderID)
		return snap, true
	}

	if o.Filled > 0 {
		o.Status = StatusPartiallyFilled
	}
	return *o, false
}
