package inventory

// SkewConfig 库存偏斜参数。偏斜只改数量不改价格，
// 配置的价差原样保留，变的是库存均值回归的速度。
type SkewConfig struct {
	Enabled             bool
	TargetBaseWeightPct float64 // 组合中基础资产的目标权重（百分比）
	RangeMultiplier     float64 // 舒适区间宽窄系数
	OrderNotional       float64 // 单笔名义，与 RangeMultiplier 一起决定区间
}

// Multipliers 买卖两侧的数量乘数。
type Multipliers struct {
	Bid float64
	Ask float64
}

// Neutral 返回不偏斜的乘数。
func Neutral() Multipliers {
	return Multipliers{Bid: 1, Ask: 1}
}

// Skew 依据当前基础资产权重与目标的偏离计算乘数。
// 基础资产超配时压买单、放卖单，反之亦然；偏离按舒适区间归一并钳制到 [-1,1]。
func (c SkewConfig) Skew(baseBalance, quoteBalance, mid float64) Multipliers {
	if !c.Enabled || mid <= 0 {
		return Neutral()
	}
	portfolio := baseBalance*mid + quoteBalance
	if portfolio <= 0 {
		return Neutral()
	}
	comfortRange := 2 * c.OrderNotional * c.RangeMultiplier
	if comfortRange <= 0 {
		return Neutral()
	}

	currentWeight := baseBalance * mid / portfolio * 100
	delta := currentWeight - c.TargetBaseWeightPct

	factor := delta / (comfortRange / 2)
	if factor > 1 {
		factor = 1
	} else if factor < -1 {
		factor = -1
	}
	return Multipliers{Bid: 1 - factor, Ask: 1 + factor}
}
