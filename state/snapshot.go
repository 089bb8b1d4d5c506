package state

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"market-quoter-go/inventory"
	"market-quoter-go/order"
)

const snapshotKey = "quoter:last_snapshot"

// Snapshot 一次完整的记账快照。
type Snapshot struct {
	TimestampMS           int64             `msgpack:"ts"`
	Symbol                string            `msgpack:"symbol"`
	ActiveOrders          []order.Order     `msgpack:"active_orders"`
	Trades                []inventory.Trade `msgpack:"trades"`
	InitialPortfolioValue float64           `msgpack:"initial_portfolio_value"`
	CumulativePnL         float64           `msgpack:"cumulative_pnl"`
	TradeCount            int               `msgpack:"trade_count"`
}

// Save 覆盖写入最新快照。
func Save(ctx context.Context, store *Store, snap Snapshot) error {
	if store == nil {
		return nil
	}
	payload, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return store.Set(ctx, snapshotKey, payload)
}

// Load 读取最近一次快照；没有历史时第二个返回值为 false。
func Load(ctx context.Context, store *Store) (Snapshot, bool, error) {
	if store == nil {
		return Snapshot{}, false, nil
	}
	raw, ok, err := store.Get(ctx, snapshotKey)
	if err != nil || !ok {
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}
