package strategy

import (
	"math"
	"sync"
	"time"

	"quote-engine/internal/stats"
	"quote-engine/market"
)

// Signals 单个 symbol 当前的市场/执行信号。
type Signals struct {
	VolBps         float64 // |Δmid|/mid 的 EMA（bps）
	LiquidityQty   float64 // 前 N 档两侧平均挂单量
	LatencyP95Ms   float64
	LatencySamples int
	PnLZ           float64 // 最新 PnL 相对滚动均值的 z-score
	PnLSamples     int
}

// SignalConfig 信号采集窗口。
type SignalConfig struct {
	VolWindowTicks  int // EMA 窗口，alpha = 2/(n+1)
	LiquidityLevels int
	LatencyWindow   int
	PnLWindow       int
}

// DefaultSignalConfig 返回默认配置
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		VolWindowTicks:  60,
		LiquidityLevels: 5,
		LatencyWindow:   100,
		PnLWindow:       60,
	}
}

// SignalTracker 汇总 spread 与风控共同使用的滚动信号。
type SignalTracker struct {
	cfg       SignalConfig
	vol       *stats.EMA
	lastMid   float64
	liquidity float64
	latency   *stats.Window
	pnl       *stats.Window
	mu        sync.RWMutex
}

// NewSignalTracker 创建信号跟踪器
func NewSignalTracker(cfg SignalConfig) *SignalTracker {
	def := DefaultSignalConfig()
	if cfg.VolWindowTicks <= 0 {
		cfg.VolWindowTicks = def.VolWindowTicks
	}
	if cfg.LiquidityLevels <= 0 {
		cfg.LiquidityLevels = def.LiquidityLevels
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = def.LatencyWindow
	}
	if cfg.PnLWindow <= 0 {
		cfg.PnLWindow = def.PnLWindow
	}
	return &SignalTracker{
		cfg:     cfg,
		vol:     stats.NewEMAForWindow(float64(cfg.VolWindowTicks)),
		latency: stats.NewWindow(cfg.LatencyWindow),
		pnl:     stats.NewWindow(cfg.PnLWindow),
	}
}

// OnSnapshot 用新快照更新波动率与流动性。
func (s *SignalTracker) OnSnapshot(snap market.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mid := snap.Mid()
	if mid > 0 && s.lastMid > 0 {
		s.vol.Update(math.Abs(mid-s.lastMid) / s.lastMid * 1e4)
	}
	if mid > 0 {
		s.lastMid = mid
	}
	n := s.cfg.LiquidityLevels
	s.liquidity = (snap.DepthQty(market.Bid, n) + snap.DepthQty(market.Ask, n)) / 2
}

// RecordLatency 记录一次 tick 处理延迟。
func (s *SignalTracker) RecordLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency.Push(float64(d) / float64(time.Millisecond))
}

// RecordPnL 记录一次 PnL 样本（已实现 + 未实现）。
func (s *SignalTracker) RecordPnL(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pnl.Push(pnl)
}

// Signals 返回当前信号快照。
func (s *SignalTracker) Signals() Signals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Signals{
		VolBps:         s.vol.Value(),
		LiquidityQty:   s.liquidity,
		LatencyP95Ms:   s.latency.Percentile(95),
		LatencySamples: s.latency.Len(),
		PnLZ:           s.pnl.ZScore(),
		PnLSamples:     s.pnl.Len(),
	}
}
