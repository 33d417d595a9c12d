package risk

import (
	"math"
	"sync"
	"time"

	"quote-engine/quote"
)

// Threshold 软/硬阈值对。连续量须严格超过阈值才触发，计数类达到阈值即触发。
type Threshold struct {
	Soft float64
	Hard float64
}

// level 按阈值返回触发等级，阈值 <=0 表示不启用该档。
func (t Threshold) level(v float64) quote.GuardLevel {
	if t.Hard > 0 && v > t.Hard {
		return quote.LevelHard
	}
	if t.Soft > 0 && v > t.Soft {
		return quote.LevelSoft
	}
	return quote.LevelNone
}

// countLevel 计数类触发器，等于阈值即触发。
func (t Threshold) countLevel(n int) quote.GuardLevel {
	v := float64(n)
	if t.Hard > 0 && v >= t.Hard {
		return quote.LevelHard
	}
	if t.Soft > 0 && v >= t.Soft {
		return quote.LevelSoft
	}
	return quote.LevelNone
}

// GuardConfig 风控触发器配置
type GuardConfig struct {
	Enabled bool

	Volatility        Threshold // EMA 波动（bps）
	LatencyP95        Threshold // 毫秒
	LatencyMinSamples int
	PnLZ              Threshold // 以正数配置，z < -阈值 触发
	PnLMinSamples     int
	Inventory         Threshold // |库存| 占最大仓位百分比
	TakerFills        Threshold // 窗口内吃单成交次数

	HaltDuration  time.Duration // HARD 停机时长
	RearmDuration time.Duration // 到期后仍超硬阈值时的续期时长，0 表示同 HaltDuration

	SoftSizeFactor    float64 // SOFT 下单量缩放
	SoftSpreadBumpBps float64 // SOFT 价差加宽
}

// DefaultGuardConfig 返回默认配置
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Enabled:           true,
		Volatility:        Threshold{Soft: 3, Hard: 8},
		LatencyP95:        Threshold{Soft: 250, Hard: 600},
		LatencyMinSamples: 5,
		PnLZ:              Threshold{Soft: 2, Hard: 3},
		PnLMinSamples:     10,
		Inventory:         Threshold{Soft: 60, Hard: 90},
		TakerFills:        Threshold{Soft: 5, Hard: 10},
		HaltDuration:      30 * time.Second,
		SoftSizeFactor:    0.5,
		SoftSpreadBumpBps: 5,
	}
}

// Inputs 一次评估所需的信号。
type Inputs struct {
	VolBps         float64
	LatencyP95Ms   float64
	LatencySamples int
	PnLZ           float64
	PnLSamples     int
	InventoryPct   float64 // 可正可负
	TakerFills     int
}

// TriggerResult 单个触发器的评估结果。
type TriggerResult struct {
	Reason quote.GuardReason
	Level  quote.GuardLevel
	Value  float64
}

// EvaluateTriggers 独立评估五个触发器，总等级取最大值。
func EvaluateTriggers(cfg GuardConfig, in Inputs) (quote.GuardLevel, []TriggerResult) {
	results := []TriggerResult{
		{Reason: quote.ReasonVolatility, Value: in.VolBps, Level: cfg.Volatility.level(in.VolBps)},
		{Reason: quote.ReasonInventory, Value: in.InventoryPct, Level: cfg.Inventory.level(math.Abs(in.InventoryPct))},
		{Reason: quote.ReasonTakerFills, Value: float64(in.TakerFills), Level: cfg.TakerFills.countLevel(in.TakerFills)},
	}
	lat := TriggerResult{Reason: quote.ReasonLatency, Value: in.LatencyP95Ms}
	if in.LatencySamples >= cfg.LatencyMinSamples {
		lat.Level = cfg.LatencyP95.level(in.LatencyP95Ms)
	}
	pnl := TriggerResult{Reason: quote.ReasonPnL, Value: in.PnLZ}
	if in.PnLSamples >= cfg.PnLMinSamples {
		pnl.Level = cfg.PnLZ.level(-in.PnLZ)
	}
	results = append(results, lat, pnl)

	overall := quote.LevelNone
	for _, r := range results {
		overall = quote.Max(overall, r.Level)
	}
	return overall, results
}

// Guards 单个 symbol 的风控状态机：NONE / SOFT / HARD(halt_until)。
type Guards struct {
	cfg          GuardConfig
	haltUntil    time.Time
	current      quote.GuardAssessment
	reasonCounts map[quote.GuardReason]int
	onTransition func(old, new quote.GuardAssessment)
	mu           sync.Mutex
}

// NewGuards 创建风控状态机
func NewGuards(cfg GuardConfig) *Guards {
	if cfg.SoftSizeFactor <= 0 || cfg.SoftSizeFactor > 1 {
		cfg.SoftSizeFactor = 1
	}
	if cfg.HaltDuration < 0 {
		cfg.HaltDuration = 0
	}
	return &Guards{
		cfg:          cfg,
		current:      quote.GuardAssessment{Level: quote.LevelNone, SizeScale: 1},
		reasonCounts: make(map[quote.GuardReason]int),
	}
}

// SetTransitionCallback 等级变化（或停机续期）时回调。
func (g *Guards) SetTransitionCallback(fn func(old, new quote.GuardAssessment)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTransition = fn
}

// Assess 评估当前风险等级。停机期间固定返回 HARD。
func (g *Guards) Assess(in Inputs, now time.Time) quote.GuardAssessment {
	g.mu.Lock()
	old := g.current
	next := g.assessLocked(in, now)
	g.current = next
	cb := g.onTransition
	g.mu.Unlock()

	changed := old.Level != next.Level || !old.HaltUntil.Equal(next.HaltUntil)
	if cb != nil && changed {
		cb(old, next)
	}
	return next
}

func (g *Guards) assessLocked(in Inputs, now time.Time) quote.GuardAssessment {
	if !g.cfg.Enabled {
		g.haltUntil = time.Time{}
		return quote.GuardAssessment{Level: quote.LevelNone, SizeScale: 1, EvaluatedAt: now}
	}

	if !g.haltUntil.IsZero() && now.Before(g.haltUntil) {
		g.reasonCounts[quote.ReasonHaltCooldown]++
		return quote.GuardAssessment{
			Level:       quote.LevelHard,
			Reasons:     []quote.GuardReason{quote.ReasonHaltCooldown},
			HaltUntil:   g.haltUntil,
			EvaluatedAt: now,
		}
	}

	// 停机到期（或未停机）：从头评估
	wasHalted := !g.haltUntil.IsZero()
	level, results := EvaluateTriggers(g.cfg, in)
	a := quote.GuardAssessment{Level: level, SizeScale: 1, EvaluatedAt: now}
	for _, r := range results {
		if r.Level == quote.LevelNone {
			continue
		}
		a.Reasons = append(a.Reasons, r.Reason)
		g.reasonCounts[r.Reason]++
	}

	switch level {
	case quote.LevelHard:
		d := g.cfg.HaltDuration
		if wasHalted && g.cfg.RearmDuration > 0 {
			d = g.cfg.RearmDuration
		}
		g.haltUntil = now.Add(d)
		a.HaltUntil = g.haltUntil
		a.SizeScale = 0
	case quote.LevelSoft:
		g.haltUntil = time.Time{}
		a.SizeScale = g.cfg.SoftSizeFactor
		a.SpreadBumpBps = g.cfg.SoftSpreadBumpBps
	default:
		g.haltUntil = time.Time{}
	}
	return a
}

// Current 最近一次评估结果。
func (g *Guards) Current() quote.GuardAssessment {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// HaltUntil 当前停机截止时间，未停机为零值。
func (g *Guards) HaltUntil() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.haltUntil
}

// ReasonCounts 各原因累计触发次数（拷贝）。
func (g *Guards) ReasonCounts() map[quote.GuardReason]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[quote.GuardReason]int, len(g.reasonCounts))
	for k, v := range g.reasonCounts {
		out[k] = v
	}
	return out
}

// UpdateConfig 热更新阈值，不影响进行中的停机。
func (g *Guards) UpdateConfig(cfg GuardConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cfg.SoftSizeFactor <= 0 || cfg.SoftSizeFactor > 1 {
		cfg.SoftSizeFactor = 1
	}
	g.cfg = cfg
}
