package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFillPartialThenTerminal(t *testing.T) {
	e := newTestExecutor(&fakeExchange{})
	o, err := e.Place(context.Background(), SideBuy, 100, 2)
	require.NoError(t, err)

	snap, terminal := e.ApplyFill(Fill{OrderID: o.ID, Side: SideBuy, Price: 100, Filled: 0.5, Status: StatusPartiallyFilled})
	assert.False(t, terminal)
	assert.Equal(t, StatusPartiallyFilled, snap.Status)
	assert.Equal(t, 0.5, snap.Filled)

	snap, terminal = e.ApplyFill(Fill{OrderID: o.ID, Side: SideBuy, Price: 100, Filled: 2, Status: StatusFilled})
	assert.True(t, terminal)
	assert.Equal(t, StatusFilled, snap.Status)
	assert.Equal(t, snap.Quantity, snap.Filled)
	assert.Empty(t, e.Resting())
}

func TestApplyFillTerminalIdempotent(t *testing.T) {
	e := newTestExecutor(&fakeExchange{})
	o, err := e.Place(context.Background(), SideSell, 101, 1)
	require.NoError(t, err)

	fill := Fill{OrderID: o.ID, Side: SideSell, Price: 101, Filled: 1, Status: StatusFilled}
	_, first := e.ApplyFill(fill)
	assert.True(t, first)

	// 同一终态重复投递必须是幂等空操作
	snap, second := e.ApplyFill(fill)
	assert.False(t, second)
	assert.Equal(t, Order{}, snap)
	assert.Empty(t, e.Resting())
}

func TestApplyFillFilledNeverExceedsQuantity(t *testing.T) {
	e := newTestExecutor(&fakeExchange{})
	o, err := e.Place(context.Background(), SideBuy, 100, 1)
	require.NoError(t, err)

	snap, _ := e.ApplyFill(Fill{OrderID: o.ID, Filled: 5, Status: StatusPartiallyFilled})
	assert.Equal(t, 1.0, snap.Filled)
}

func TestApplyFillFilledIsMonotonic(t *testing.T) {
	e := newTestExecutor(&fakeExchange{})
	o, err := e.Place(context.Background(), SideBuy, 100, 2)
	require.NoError(t, err)

	_, _ = e.ApplyFill(Fill{OrderID: o.ID, Filled: 1.5, Status: StatusPartiallyFilled})
	// 乱序的旧回报不能让成交量回退
	snap, _ := e.ApplyFill(Fill{OrderID: o.ID, Filled: 0.5, Status: StatusPartiallyFilled})
	assert.Equal(t, 1.5, snap.Filled)
}

func TestApplyFillUnknownOrder(t *testing.T) {
	e := newTestExecutor(&fakeExchange{})
	_, applied := e.ApplyFill(Fill{OrderID: "ghost", Filled: 1, Status: StatusFilled})
	assert.False(t, applied)
}

func TestCanceledTerminalRemovesEntry(t *testing.T) {
	e := newTestExecutor(&fakeExchange{})
	o, err := e.Place(context.Background(), SideBuy, 100, 1)
	require.NoError(t, err)

	snap, terminal := e.ApplyFill(Fill{OrderID: o.ID, Status: StatusCanceled})
	assert.True(t, terminal)
	assert.Equal(t, StatusCanceled, snap.Status)
	assert.Empty(t, e.Resting())
}
