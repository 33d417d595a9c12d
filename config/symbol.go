package config

import (
	"time"

	"quote-engine/internal/order_manager"
	"quote-engine/internal/risk"
	"quote-engine/internal/strategy"
	"quote-engine/order"
	"quote-engine/quote"
)

// SymbolConfig 单个交易对的全部参数。数值为 0 时使用组件默认值。
type SymbolConfig struct {
	TickSize    float64 `yaml:"tickSize"`
	StepSize    float64 `yaml:"stepSize"`
	MinQty      float64 `yaml:"minQty"`
	MaxQty      float64 `yaml:"maxQty"`
	MinNotional float64 `yaml:"minNotional"`

	BaseSize      float64 `yaml:"baseSize"`    // 单边挂单量
	MaxPosition   float64 `yaml:"maxPosition"` // 库存百分比的分母
	TakerWindowMs int     `yaml:"takerWindowMs"`

	Signals   SignalParams `yaml:"signals"`
	Spread    SpreadParams `yaml:"spread"`
	Guards    GuardParams  `yaml:"guards"`
	Orders    OrderParams  `yaml:"orders"`
	Inventory SkewParams   `yaml:"inventory"`
	Queue     QueueParams  `yaml:"queue"`
}

type SignalParams struct {
	VolWindowTicks  int `yaml:"volWindowTicks"`
	LiquidityLevels int `yaml:"liquidityLevels"`
	LatencyWindow   int `yaml:"latencyWindow"`
	PnLWindow       int `yaml:"pnlWindow"`
}

type SpreadParams struct {
	Enabled       *bool   `yaml:"enabled"`
	BaseBps       float64 `yaml:"baseBps"`
	MinBps        float64 `yaml:"minBps"`
	MaxBps        float64 `yaml:"maxBps"`
	MaxStepBps    float64 `yaml:"maxStepBps"`
	CooloffMs     int     `yaml:"cooloffMs"`
	WeightVol     float64 `yaml:"weightVol"`
	WeightLiq     float64 `yaml:"weightLiq"`
	WeightLatency float64 `yaml:"weightLatency"`
	WeightPnL     float64 `yaml:"weightPnl"`
	VolSoftBps    float64 `yaml:"volSoftBps"`
	VolHardBps    float64 `yaml:"volHardBps"`
	LiqGood       float64 `yaml:"liqGood"`
	LiqPoor       float64 `yaml:"liqPoor"`
	LatSoftMs     float64 `yaml:"latSoftMs"`
	LatHardMs     float64 `yaml:"latHardMs"`
	PnLZScale     float64 `yaml:"pnlZScale"`
}

// ThresholdParams 软/硬阈值
type ThresholdParams struct {
	Soft float64 `yaml:"soft"`
	Hard float64 `yaml:"hard"`
}

type GuardParams struct {
	Enabled           *bool            `yaml:"enabled"`
	Volatility        *ThresholdParams `yaml:"volatilityBps"`
	LatencyP95        *ThresholdParams `yaml:"latencyP95Ms"`
	PnLZ              *ThresholdParams `yaml:"pnlZ"`
	Inventory         *ThresholdParams `yaml:"inventoryPct"`
	TakerFills        *ThresholdParams `yaml:"takerFills"`
	HaltMs            int              `yaml:"haltMs"`
	RearmMs           int              `yaml:"rearmMs"`
	SoftSizeFactor    float64          `yaml:"softSizeFactor"`
	SoftSpreadBumpBps float64          `yaml:"softSpreadBumpBps"`
}

type OrderParams struct {
	MaxActivePerSide    int     `yaml:"maxActivePerSide"`
	MaxCreatePerSec     int     `yaml:"maxCreatePerSec"`
	MaxCancelPerSec     int     `yaml:"maxCancelPerSec"`
	MinTimeInBookMs     int     `yaml:"minTimeInBookMs"`
	ReplaceThresholdBps float64 `yaml:"replaceThresholdBps"`
	FeeBps              float64 `yaml:"feeBps"`
	SlippageBps         float64 `yaml:"slippageBps"`
	PriceToleranceBps   float64 `yaml:"priceToleranceBps"`
	StaleTTLMs          int     `yaml:"staleTtlMs"`
	StaleDriftBps       float64 `yaml:"staleDriftBps"`
	PendingTimeoutMs    int     `yaml:"pendingTimeoutMs"`
	PostOnly            *bool   `yaml:"postOnly"`
}

type SkewParams struct {
	Enabled        *bool   `yaml:"enabled"`
	TargetPct      float64 `yaml:"targetPct"`
	ClampPct       float64 `yaml:"clampPct"`
	SlopeBpsPerPct float64 `yaml:"slopeBpsPerPct"`
	MaxSkewBps     float64 `yaml:"maxSkewBps"`
}

type QueueParams struct {
	Enabled          *bool   `yaml:"enabled"`
	DepthLevels      int     `yaml:"depthLevels"`
	JoinThresholdPct float64 `yaml:"joinThresholdPct"`
	MaxRepriceBps    float64 `yaml:"maxRepriceBps"`
	HeadroomMs       int     `yaml:"headroomMs"`
}

// Constraints 交易所精度约束
func (s SymbolConfig) Constraints() order.SymbolConstraints {
	return order.SymbolConstraints{
		TickSize:    s.TickSize,
		StepSize:    s.StepSize,
		MinQty:      s.MinQty,
		MaxQty:      s.MaxQty,
		MinNotional: s.MinNotional,
	}
}

// TakerWindow 吃单统计窗口
func (s SymbolConfig) TakerWindow() time.Duration {
	if s.TakerWindowMs <= 0 {
		return time.Minute
	}
	return ms(s.TakerWindowMs)
}

func (s SymbolConfig) SignalConfig() strategy.SignalConfig {
	return strategy.SignalConfig{
		VolWindowTicks:  s.Signals.VolWindowTicks,
		LiquidityLevels: s.Signals.LiquidityLevels,
		LatencyWindow:   s.Signals.LatencyWindow,
		PnLWindow:       s.Signals.PnLWindow,
	}
}

func (s SymbolConfig) SpreadConfig() strategy.AdaptiveSpreadConfig {
	p := s.Spread
	cfg := strategy.DefaultAdaptiveSpreadConfig()
	cfg.Enabled = on(p.Enabled, cfg.Enabled)
	setF(&cfg.BaseSpreadBps, p.BaseBps)
	setF(&cfg.MinSpreadBps, p.MinBps)
	setF(&cfg.MaxSpreadBps, p.MaxBps)
	setF(&cfg.MaxStepBps, p.MaxStepBps)
	if p.CooloffMs > 0 {
		cfg.Cooloff = ms(p.CooloffMs)
	}
	cfg.Weights = quote.FactorBreakdown{
		Volatility: pick(p.WeightVol, cfg.Weights.Volatility),
		Liquidity:  pick(p.WeightLiq, cfg.Weights.Liquidity),
		Latency:    pick(p.WeightLatency, cfg.Weights.Latency),
		PnL:        pick(p.WeightPnL, cfg.Weights.PnL),
	}
	setF(&cfg.VolSoftBps, p.VolSoftBps)
	setF(&cfg.VolHardBps, p.VolHardBps)
	setF(&cfg.LiquidityGood, p.LiqGood)
	setF(&cfg.LiquidityPoor, p.LiqPoor)
	setF(&cfg.LatencySoftMs, p.LatSoftMs)
	setF(&cfg.LatencyHardMs, p.LatHardMs)
	setF(&cfg.PnLZScale, p.PnLZScale)
	return cfg
}

func (s SymbolConfig) GuardConfig() risk.GuardConfig {
	p := s.Guards
	cfg := risk.DefaultGuardConfig()
	cfg.Enabled = on(p.Enabled, cfg.Enabled)
	setT(&cfg.Volatility, p.Volatility)
	setT(&cfg.LatencyP95, p.LatencyP95)
	setT(&cfg.PnLZ, p.PnLZ)
	setT(&cfg.Inventory, p.Inventory)
	setT(&cfg.TakerFills, p.TakerFills)
	if p.HaltMs > 0 {
		cfg.HaltDuration = ms(p.HaltMs)
	}
	if p.RearmMs > 0 {
		cfg.RearmDuration = ms(p.RearmMs)
	}
	setF(&cfg.SoftSizeFactor, p.SoftSizeFactor)
	setF(&cfg.SoftSpreadBumpBps, p.SoftSpreadBumpBps)
	return cfg
}

func (s SymbolConfig) OrderConfig(symbol string) order_manager.Config {
	p := s.Orders
	cfg := order_manager.DefaultConfig(symbol)
	setI(&cfg.MaxActivePerSide, p.MaxActivePerSide)
	setI(&cfg.MaxCreatePerSec, p.MaxCreatePerSec)
	setI(&cfg.MaxCancelPerSec, p.MaxCancelPerSec)
	if p.MinTimeInBookMs > 0 {
		cfg.MinTimeInBook = ms(p.MinTimeInBookMs)
	}
	setF(&cfg.ReplaceThresholdBps, p.ReplaceThresholdBps)
	setF(&cfg.FeeBps, p.FeeBps)
	setF(&cfg.SlippageBps, p.SlippageBps)
	setF(&cfg.PriceToleranceBps, p.PriceToleranceBps)
	if p.StaleTTLMs > 0 {
		cfg.StaleTTL = ms(p.StaleTTLMs)
	}
	setF(&cfg.StaleDriftBps, p.StaleDriftBps)
	if p.PendingTimeoutMs > 0 {
		cfg.PendingTimeout = ms(p.PendingTimeoutMs)
	}
	cfg.PostOnly = on(p.PostOnly, cfg.PostOnly)
	cfg.Constraints = s.Constraints()
	return cfg
}

func (s SymbolConfig) SkewConfig() strategy.InventorySkewConfig {
	p := s.Inventory
	cfg := strategy.DefaultInventorySkewConfig()
	cfg.Enabled = on(p.Enabled, cfg.Enabled)
	cfg.TargetPct = p.TargetPct
	setF(&cfg.ClampPct, p.ClampPct)
	setF(&cfg.SlopeBpsPerPct, p.SlopeBpsPerPct)
	setF(&cfg.MaxSkewBps, p.MaxSkewBps)
	return cfg
}

func (s SymbolConfig) QueueConfig() strategy.QueueAwareConfig {
	p := s.Queue
	cfg := strategy.DefaultQueueAwareConfig()
	cfg.Enabled = on(p.Enabled, cfg.Enabled)
	setI(&cfg.DepthLevels, p.DepthLevels)
	setF(&cfg.JoinThresholdPct, p.JoinThresholdPct)
	setF(&cfg.MaxRepriceBps, p.MaxRepriceBps)
	if p.HeadroomMs > 0 {
		cfg.Headroom = ms(p.HeadroomMs)
	}
	return cfg
}

func on(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func setF(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setI(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setT(dst *risk.Threshold, p *ThresholdParams) {
	if p != nil {
		*dst = risk.Threshold{Soft: p.Soft, Hard: p.Hard}
	}
}

func pick(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
