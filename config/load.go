// Package config 负责 YAML 配置的加载、校验与热更新。
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"market-quoter-go/gateway"
	"market-quoter-go/inventory"
	"market-quoter-go/logger"
	"market-quoter-go/risk"
	"market-quoter-go/strategy"
)

// GatewayConfig 交易所接入配置。密钥只从环境变量读，不落文件。
type GatewayConfig struct {
	Mode              string  `yaml:"mode"` // paper 或 live
	WsURL             string  `yaml:"wsUrl"`
	RestURL           string  `yaml:"restUrl"`
	APIKey            string  `yaml:"-"`
	APISecret         string  `yaml:"-"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// InstrumentConfig 标的定义。base/quote 显式声明，不从 symbol 拆。
type InstrumentConfig struct {
	Symbol         string `yaml:"symbol"`
	BaseAsset      string `yaml:"baseAsset"`
	QuoteAsset     string `yaml:"quoteAsset"`
	PricePrecision int32  `yaml:"pricePrecision"`
	LotPrecision   int32  `yaml:"lotPrecision"`
}

// StrategyConfig 报价与刷新参数。
type StrategyConfig struct {
	BidSpreadPct      float64 `yaml:"bidSpreadPct"`
	AskSpreadPct      float64 `yaml:"askSpreadPct"`
	OrderNotional     float64 `yaml:"orderNotional"`
	PriceReference    string  `yaml:"priceReference"` // MID, BID, ASK
	Levels            int     `yaml:"levels"`
	LevelSpreadStep   float64 `yaml:"levelSpreadStep"`
	PriceCeiling      float64 `yaml:"priceCeiling"`
	PriceFloor        float64 `yaml:"priceFloor"`
	MinOrderSize      float64 `yaml:"minOrderSize"`
	RefreshIntervalMS int     `yaml:"refreshIntervalMs"`
	PriceTolerancePct float64 `yaml:"priceTolerancePct"`
	MaxOrderAgeMS     int     `yaml:"maxOrderAgeMs"`
	TickIntervalMS    int     `yaml:"tickIntervalMs"`
}

// RiskConfig 风控参数。
type RiskConfig struct {
	MaxOrderValue float64 `yaml:"maxOrderValue"`
	MinOrderSize  float64 `yaml:"minOrderSize"`
	SafetyMargin  float64 `yaml:"safetyMargin"`
	MinSpreadPct  float64 `yaml:"minSpreadPct"`
	MaxSpreadPct  float64 `yaml:"maxSpreadPct"`
}

// SkewConfig 库存偏斜参数。
type SkewConfig struct {
	Enabled             bool    `yaml:"enabled"`
	TargetBaseWeightPct float64 `yaml:"targetBaseWeightPct"`
	RangeMultiplier     float64 `yaml:"rangeMultiplier"`
}

// AppConfig 进程级完整配置。
type AppConfig struct {
	Env         string           `yaml:"env"`
	Log         logger.Config    `yaml:"log"`
	MetricsAddr string           `yaml:"metricsAddr"`
	StatePath   string           `yaml:"statePath"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Instrument  InstrumentConfig `yaml:"instrument"`
	Strategy    StrategyConfig   `yaml:"strategy"`
	Risk        RiskConfig       `yaml:"risk"`
	Skew        SkewConfig       `yaml:"skew"`
}

// Load 读取并解析配置文件。
func Load(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides 加载配置并用环境变量覆盖敏感项。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return AppConfig{}, err
	}
	if v := os.Getenv("MM_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("MM_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 启动前整体校验，失败即拒绝启动。
func (c AppConfig) Validate() error {
	if c.Instrument.Symbol == "" || c.Instrument.BaseAsset == "" || c.Instrument.QuoteAsset == "" {
		return errors.New("instrument symbol/baseAsset/quoteAsset are required")
	}
	if c.Strategy.BidSpreadPct <= 0 || c.Strategy.AskSpreadPct <= 0 {
		return errors.New("strategy spreads must be > 0")
	}
	if c.Strategy.OrderNotional <= 0 {
		return errors.New("strategy orderNotional must be > 0")
	}
	if c.Strategy.Levels < 1 {
		return errors.New("strategy levels must be >= 1")
	}
	if c.Strategy.TickIntervalMS <= 0 {
		return errors.New("strategy tickIntervalMs must be > 0")
	}
	if c.Risk.MinSpreadPct < 0 || c.Risk.MaxSpreadPct <= c.Risk.MinSpreadPct {
		return errors.New("risk spread band requires 0 <= minSpreadPct < maxSpreadPct")
	}
	switch c.Gateway.Mode {
	case "", "paper":
	case "live":
		if c.Gateway.RestURL == "" || c.Gateway.WsURL == "" {
			return errors.New("live mode requires gateway restUrl and wsUrl")
		}
		if c.Gateway.APIKey == "" || c.Gateway.APISecret == "" {
			return errors.New("live mode requires MM_API_KEY and MM_API_SECRET")
		}
	default:
		return fmt.Errorf("unknown gateway mode %q", c.Gateway.Mode)
	}
	return nil
}

// InstrumentSpec 转成网关侧的标的定义。
func (c AppConfig) InstrumentSpec() gateway.Instrument {
	return gateway.Instrument{
		Symbol:         c.Instrument.Symbol,
		BaseAsset:      c.Instrument.BaseAsset,
		QuoteAsset:     c.Instrument.QuoteAsset,
		PricePrecision: c.Instrument.PricePrecision,
		LotPrecision:   c.Instrument.LotPrecision,
	}
}

// StrategyParams 转成报价生成参数。
func (c AppConfig) StrategyParams() strategy.Params {
	ref := strategy.PriceReference(c.Strategy.PriceReference)
	if ref == "" {
		ref = strategy.RefMid
	}
	return strategy.Params{
		BidSpreadPct:    c.Strategy.BidSpreadPct,
		AskSpreadPct:    c.Strategy.AskSpreadPct,
		OrderNotional:   c.Strategy.OrderNotional,
		PriceReference:  ref,
		Levels:          c.Strategy.Levels,
		LevelSpreadStep: c.Strategy.LevelSpreadStep,
		PriceCeiling:    c.Strategy.PriceCeiling,
		PriceFloor:      c.Strategy.PriceFloor,
		MinOrderSize:    c.Strategy.MinOrderSize,
		PricePrecision:  c.Instrument.PricePrecision,
		LotPrecision:    c.Instrument.LotPrecision,
	}
}

// RefreshPolicy 转成刷新决策参数。
func (c AppConfig) RefreshPolicy() strategy.RefreshPolicy {
	return strategy.RefreshPolicy{
		Interval:     time.Duration(c.Strategy.RefreshIntervalMS) * time.Millisecond,
		TolerancePct: c.Strategy.PriceTolerancePct,
		MaxOrderAge:  time.Duration(c.Strategy.MaxOrderAgeMS) * time.Millisecond,
	}
}

// GateConfig 转成风控闸门参数。
func (c AppConfig) GateConfig() risk.GateConfig {
	return risk.GateConfig{
		MaxOrderValue: c.Risk.MaxOrderValue,
		MinOrderSize:  c.Risk.MinOrderSize,
		SafetyMargin:  c.Risk.SafetyMargin,
		LotPrecision:  c.Instrument.LotPrecision,
	}
}

// SkewSpec 转成库存偏斜参数。
func (c AppConfig) SkewSpec() inventory.SkewConfig {
	return inventory.SkewConfig{
		Enabled:             c.Skew.Enabled,
		TargetBaseWeightPct: c.Skew.TargetBaseWeightPct,
		RangeMultiplier:     c.Skew.RangeMultiplier,
		OrderNotional:       c.Strategy.OrderNotional,
	}
}

// TickInterval 返回决策周期。
func (c AppConfig) TickInterval() time.Duration {
	return time.Duration(c.Strategy.TickIntervalMS) * time.Millisecond
}
