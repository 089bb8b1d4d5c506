package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"market-quoter-go/order"
)

func TestGateFatFinger(t *testing.T) {
	g := NewGate(GateConfig{MaxOrderValue: 5, LotPrecision: 4})

	res := g.Check(order.SideBuy, 1, 10, 0, 1000)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "10")
	assert.Contains(t, res.Reason, "5")
	assert.Equal(t, 0.0, res.Quantity)
}

func TestGateFatFingerDisabled(t *testing.T) {
	g := NewGate(GateConfig{MaxOrderValue: 0, LotPrecision: 4})
	res := g.Check(order.SideBuy, 1, 1e9, 0, 1e10)
	assert.True(t, res.Approved)
}

func TestGateBuySufficientFunds(t *testing.T) {
	g := NewGate(GateConfig{LotPrecision: 4})
	// 需要 80，可用 100：不收敛
	res := g.Check(order.SideBuy, 2, 40, 0, 100)
	assert.True(t, res.Approved)
	assert.Equal(t, 40.0, res.Quantity)
}

func TestGateBuyDownsized(t *testing.T) {
	g := NewGate(GateConfig{MinOrderSize: 1, SafetyMargin: 0.95, LotPrecision: 0})
	// 需要 80，可用 50 → floor(50/2×0.95) = 23
	res := g.Check(order.SideBuy, 2, 40, 0, 50)
	assert.True(t, res.Approved)
	assert.Equal(t, 23.0, res.Quantity)
}

func TestGateBuyDownsizedBelowMinimum(t *testing.T) {
	g := NewGate(GateConfig{MinOrderSize: 30, SafetyMargin: 0.95, LotPrecision: 0})
	res := g.Check(order.SideBuy, 2, 40, 0, 50)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "insufficient funds")
}

func TestGateSellDownsized(t *testing.T) {
	g := NewGate(GateConfig{MinOrderSize: 0.1, SafetyMargin: 0.95, LotPrecision: 2})
	// 想卖 10，只有 4 → floor(4×0.95, 2) = 3.8
	res := g.Check(order.SideSell, 100, 10, 4, 0)
	assert.True(t, res.Approved)
	assert.Equal(t, 3.8, res.Quantity)
}

func TestGateSellInsufficient(t *testing.T) {
	g := NewGate(GateConfig{MinOrderSize: 5, SafetyMargin: 0.95, LotPrecision: 2})
	res := g.Check(order.SideSell, 100, 10, 4, 0)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "insufficient funds")
}

func TestGateMinimumSize(t *testing.T) {
	g := NewGate(GateConfig{MinOrderSize: 1, LotPrecision: 4})
	res := g.Check(order.SideBuy, 10, 0.5, 0, 1000)
	assert.False(t, res.Approved)
	assert.Contains(t, res.Reason, "below minimum")
}

func TestGateRejectsNonPositive(t *testing.T) {
	g := NewGate(GateConfig{LotPrecision: 4})
	assert.False(t, g.Check(order.SideBuy, 0, 1, 0, 100).Approved)
	assert.False(t, g.Check(order.SideBuy, 1, 0, 0, 100).Approved)
	assert.False(t, g.Check("HOLD", 1, 1, 0, 100).Approved)
}

func TestGateSafetyMarginDefault(t *testing.T) {
	g := NewGate(GateConfig{SafetyMargin: 2})
	assert.Equal(t, 0.95, g.Config().SafetyMargin)

	g.SetConfig(GateConfig{SafetyMargin: -1})
	assert.Equal(t, 0.95, g.Config().SafetyMargin)
}
