package strategy

import (
	"math"
	"sync"
	"time"

	"quote-engine/quote"
)

const spreadEpsilon = 1e-9

// AdaptiveSpreadConfig 自适应价差配置，所有数值单位为 bps。
type AdaptiveSpreadConfig struct {
	Enabled       bool
	BaseSpreadBps float64
	MinSpreadBps  float64
	MaxSpreadBps  float64
	MaxStepBps    float64       // 相邻 tick 最大变化，<=0 表示不限制
	Cooloff       time.Duration // 加宽后禁止收窄的时长

	// 因子权重：得分为 1 时增加的 bps
	Weights quote.FactorBreakdown

	// 得分映射区间
	VolSoftBps        float64
	VolHardBps        float64
	LiquidityGood     float64 // 深度不低于该值得分为 0
	LiquidityPoor     float64 // 深度不高于该值得分为 1
	LatencySoftMs     float64
	LatencyHardMs     float64
	LatencyMinSamples int
	PnLZScale         float64 // z <= -PnLZScale 时得分为 1
	PnLMinSamples     int
}

// DefaultAdaptiveSpreadConfig 返回默认配置
func DefaultAdaptiveSpreadConfig() AdaptiveSpreadConfig {
	return AdaptiveSpreadConfig{
		Enabled:       true,
		BaseSpreadBps: 10,
		MinSpreadBps:  5,
		MaxSpreadBps:  50,
		MaxStepBps:    3,
		Cooloff:       2 * time.Second,
		Weights: quote.FactorBreakdown{
			Volatility: 12,
			Liquidity:  8,
			Latency:    6,
			PnL:        10,
		},
		VolSoftBps:        0.5,
		VolHardBps:        5,
		LiquidityGood:     10,
		LiquidityPoor:     1,
		LatencySoftMs:     150,
		LatencyHardMs:     400,
		LatencyMinSamples: 5,
		PnLZScale:         3,
		PnLMinSamples:     10,
	}
}

// SpreadState 跨 tick 的价差状态。
// LastBps 是未叠加护栏加宽的价差，步长与冷却以它为准；LastEmittedBps 是实际输出值。
type SpreadState struct {
	LastBps        float64
	LastEmittedBps float64
	LastWidenedAt  time.Time
	Initialized    bool
}

// Scores 将信号映射为 [0,1] 的因子得分。
func Scores(cfg AdaptiveSpreadConfig, sig Signals) quote.FactorBreakdown {
	var s quote.FactorBreakdown
	s.Volatility = linearScore(sig.VolBps, cfg.VolSoftBps, cfg.VolHardBps)
	if cfg.LiquidityGood > cfg.LiquidityPoor {
		s.Liquidity = clamp01((cfg.LiquidityGood - sig.LiquidityQty) / (cfg.LiquidityGood - cfg.LiquidityPoor))
	}
	if sig.LatencySamples >= cfg.LatencyMinSamples {
		s.Latency = linearScore(sig.LatencyP95Ms, cfg.LatencySoftMs, cfg.LatencyHardMs)
	}
	if sig.PnLSamples >= cfg.PnLMinSamples && cfg.PnLZScale > 0 && sig.PnLZ < 0 {
		s.PnL = clamp01(-sig.PnLZ / cfg.PnLZScale)
	}
	return s
}

// ComputeSpread 纯函数：clamp → 步长限制 → 冷却。返回决策与新状态。
func ComputeSpread(cfg AdaptiveSpreadConfig, sig Signals, st SpreadState, now time.Time) (quote.SpreadDecision, SpreadState) {
	prev := st.LastBps
	if !st.Initialized {
		prev = clampRange(cfg.BaseSpreadBps, cfg.MinSpreadBps, cfg.MaxSpreadBps)
	}
	d := quote.SpreadDecision{
		BaseBps:     cfg.BaseSpreadBps,
		PreviousBps: prev,
	}

	if !cfg.Enabled {
		d.SpreadBps = cfg.BaseSpreadBps
		return d, SpreadState{LastBps: d.SpreadBps, Initialized: true}
	}

	d.Scores = Scores(cfg, sig)
	d.Contributions = quote.FactorBreakdown{
		Volatility: d.Scores.Volatility * cfg.Weights.Volatility,
		Liquidity:  d.Scores.Liquidity * cfg.Weights.Liquidity,
		Latency:    d.Scores.Latency * cfg.Weights.Latency,
		PnL:        d.Scores.PnL * cfg.Weights.PnL,
	}

	target := cfg.BaseSpreadBps + d.Contributions.Sum()
	spread := clampRange(target, cfg.MinSpreadBps, cfg.MaxSpreadBps)
	d.Clamped = math.Abs(spread-target) > spreadEpsilon

	if cfg.MaxStepBps > 0 && math.Abs(spread-prev) > cfg.MaxStepBps {
		if spread > prev {
			spread = prev + cfg.MaxStepBps
		} else {
			spread = prev - cfg.MaxStepBps
		}
		d.StepLimited = true
	}

	next := st
	next.Initialized = true
	if spread < prev-spreadEpsilon && !st.LastWidenedAt.IsZero() && now.Sub(st.LastWidenedAt) < cfg.Cooloff {
		spread = prev
		d.CooloffHeld = true
	}
	if spread > prev+spreadEpsilon {
		next.LastWidenedAt = now
	}
	next.LastBps = spread
	d.SpreadBps = spread
	return d, next
}

// ApplyGuardBump SOFT 等级下叠加价差加宽，结果不超过上限。
func ApplyGuardBump(d quote.SpreadDecision, g quote.GuardAssessment, maxBps float64) quote.SpreadDecision {
	if g.Level != quote.LevelSoft || g.SpreadBumpBps <= 0 {
		return d
	}
	bump := g.SpreadBumpBps
	if maxBps > 0 && d.SpreadBps+bump > maxBps {
		bump = math.Max(0, maxBps-d.SpreadBps)
	}
	d.GuardBumpBps = bump
	d.SpreadBps += bump
	return d
}

// SpreadEstimator 持有单个 symbol 的价差状态。
type SpreadEstimator struct {
	cfg   AdaptiveSpreadConfig
	state SpreadState
	mu    sync.Mutex
}

// NewSpreadEstimator 创建价差估计器
func NewSpreadEstimator(cfg AdaptiveSpreadConfig) *SpreadEstimator {
	return &SpreadEstimator{cfg: normalizeSpreadConfig(cfg)}
}

// Decide 计算本 tick 的价差决策并推进状态。
func (e *SpreadEstimator) Decide(sig Signals, g quote.GuardAssessment, now time.Time) quote.SpreadDecision {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, next := ComputeSpread(e.cfg, sig, e.state, now)
	d = ApplyGuardBump(d, g, e.cfg.MaxSpreadBps)
	if e.state.Initialized {
		d.PreviousBps = e.state.LastEmittedBps
	}
	next.LastEmittedBps = d.SpreadBps
	e.state = next
	return d
}

// UpdateConfig 热更新配置，保留历史价差以维持步长约束。
func (e *SpreadEstimator) UpdateConfig(cfg AdaptiveSpreadConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = normalizeSpreadConfig(cfg)
	if e.state.Initialized {
		e.state.LastBps = clampRange(e.state.LastBps, e.cfg.MinSpreadBps, e.cfg.MaxSpreadBps)
		e.state.LastEmittedBps = clampRange(e.state.LastEmittedBps, e.cfg.MinSpreadBps, e.cfg.MaxSpreadBps)
	}
}

// Config 返回当前配置
func (e *SpreadEstimator) Config() AdaptiveSpreadConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// State 返回当前状态
func (e *SpreadEstimator) State() SpreadState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func normalizeSpreadConfig(cfg AdaptiveSpreadConfig) AdaptiveSpreadConfig {
	def := DefaultAdaptiveSpreadConfig()
	if cfg.BaseSpreadBps <= 0 {
		cfg.BaseSpreadBps = def.BaseSpreadBps
	}
	if cfg.MinSpreadBps <= 0 {
		cfg.MinSpreadBps = math.Min(def.MinSpreadBps, cfg.BaseSpreadBps)
	}
	if cfg.MaxSpreadBps <= 0 {
		cfg.MaxSpreadBps = math.Max(def.MaxSpreadBps, cfg.BaseSpreadBps)
	}
	// 确保 min < max
	if cfg.MinSpreadBps >= cfg.MaxSpreadBps {
		cfg.MaxSpreadBps = cfg.MinSpreadBps * 2
	}
	if cfg.Cooloff < 0 {
		cfg.Cooloff = 0
	}
	return cfg
}

func linearScore(v, soft, hard float64) float64 {
	if hard <= soft {
		if v >= hard && hard > 0 {
			return 1
		}
		return 0
	}
	return clamp01((v - soft) / (hard - soft))
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
