package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkewOverweightBase(t *testing.T) {
	cfg := SkewConfig{
		Enabled:             true,
		TargetBaseWeightPct: 50,
		RangeMultiplier:     100, // 区间足够宽，避免钳制
		OrderNotional:       1,
	}
	// base 70 / 总值 100 → 当前权重 70%，超配 20 个百分点
	m := cfg.Skew(0.7, 30, 100)

	assert.Less(t, m.Bid, 1.0)
	assert.Greater(t, m.Ask, 1.0)
	// 等量起始 size 经乘数后卖侧必须大于买侧
	assert.Greater(t, 2*m.Ask, 2*m.Bid)
	assert.InDelta(t, 2.0, m.Bid+m.Ask, 1e-9)
}

func TestSkewUnderweightBase(t *testing.T) {
	cfg := SkewConfig{Enabled: true, TargetBaseWeightPct: 50, RangeMultiplier: 100, OrderNotional: 1}
	m := cfg.Skew(0.2, 80, 100) // 权重 20%，低配

	assert.Greater(t, m.Bid, 1.0)
	assert.Less(t, m.Ask, 1.0)
}

func TestSkewClamped(t *testing.T) {
	cfg := SkewConfig{Enabled: true, TargetBaseWeightPct: 50, RangeMultiplier: 0.01, OrderNotional: 1}
	m := cfg.Skew(1, 0, 100) // 权重 100%，远超区间

	assert.Equal(t, 0.0, m.Bid)
	assert.Equal(t, 2.0, m.Ask)
}

func TestSkewDisabledOrDegenerate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   SkewConfig
		base  float64
		quote float64
		mid   float64
	}{
		{"disabled", SkewConfig{Enabled: false, TargetBaseWeightPct: 50, RangeMultiplier: 1, OrderNotional: 1}, 1, 1, 100},
		{"zero mid", SkewConfig{Enabled: true, TargetBaseWeightPct: 50, RangeMultiplier: 1, OrderNotional: 1}, 1, 1, 0},
		{"empty portfolio", SkewConfig{Enabled: true, TargetBaseWeightPct: 50, RangeMultiplier: 1, OrderNotional: 1}, 0, 0, 100},
		{"zero range", SkewConfig{Enabled: true, TargetBaseWeightPct: 50, RangeMultiplier: 0, OrderNotional: 1}, 1, 1, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Neutral(), tt.cfg.Skew(tt.base, tt.quote, tt.mid))
		})
	}
}

func TestSkewBalancedPortfolioIsNeutral(t *testing.T) {
	cfg := SkewConfig{Enabled: true, TargetBaseWeightPct: 50, RangeMultiplier: 1, OrderNotional: 100}
	m := cfg.Skew(0.5, 50, 100)
	assert.InDelta(t, 1.0, m.Bid, 1e-9)
	assert.InDelta(t, 1.0, m.Ask, 1e-9)
}
