package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quote-engine/gateway"
	"quote-engine/infrastructure/logger"
	"quote-engine/market"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StatePaused 暂停状态
	StatePaused
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// RunnerConfig 事件循环配置
type RunnerConfig struct {
	StaleCheckInterval time.Duration // <=0 关闭过期巡检
	SnapshotBuffer     int
	ShutdownTimeout    time.Duration
}

// DefaultRunnerConfig 返回默认配置
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		StaleCheckInterval: time.Second,
		SnapshotBuffer:     1024,
		ShutdownTimeout:    5 * time.Second,
	}
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime        time.Time
	TotalTicks       int64
	TotalBatches     int64
	TotalErrors      int64
	TotalEvents      int64
	DroppedSnapshots int64
	StaleRefreshed   int64
	LastTickTime     time.Time
}

// Runner 行情驱动的事件循环：合并快照后批量处理，同时消费交易所回报。
type Runner struct {
	config   RunnerConfig
	pipeline *Pipeline
	events   <-chan gateway.Event
	snaps    chan market.Snapshot
	trades   chan gateway.Trade
	logger   *logger.Logger

	// 状态
	state EngineState
	mu    sync.RWMutex

	// 控制通道
	stopChan chan struct{}
	doneChan chan struct{}

	stats   Statistics
	statsMu sync.RWMutex
}

// NewRunner 创建事件循环。events 可为 nil（无异步回报的交易通道）。
func NewRunner(cfg RunnerConfig, pipeline *Pipeline, events <-chan gateway.Event, log *logger.Logger) (*Runner, error) {
	if pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	def := DefaultRunnerConfig()
	if cfg.SnapshotBuffer <= 0 {
		cfg.SnapshotBuffer = def.SnapshotBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Runner{
		config:   cfg,
		pipeline: pipeline,
		events:   events,
		snaps:    make(chan market.Snapshot, cfg.SnapshotBuffer),
		trades:   make(chan gateway.Trade, cfg.SnapshotBuffer),
		logger:   logger.OrNop(log),
		state:    StateIdle,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

var _ gateway.FeedHandler = (*Runner)(nil)

// OnSnapshot 投递行情快照，队列满时丢弃并计数。
func (r *Runner) OnSnapshot(snap market.Snapshot) {
	select {
	case r.snaps <- snap:
	default:
		r.statsMu.Lock()
		r.stats.DroppedSnapshots++
		r.statsMu.Unlock()
	}
}

// OnTrade 投递市场成交
func (r *Runner) OnTrade(tr gateway.Trade) {
	select {
	case r.trades <- tr:
	default:
	}
}

// Start 启动引擎
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateIdle && r.state != StateStopped {
		r.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", r.state)
	}
	if r.state == StateStopped {
		r.stopChan = make(chan struct{})
		r.doneChan = make(chan struct{})
	}
	r.state = StateRunning
	r.mu.Unlock()

	r.statsMu.Lock()
	r.stats.StartTime = time.Now()
	r.statsMu.Unlock()

	r.logger.Info("quote engine starting",
		zap.Strings("symbols", r.pipeline.Symbols()),
		zap.Duration("stale_check", r.config.StaleCheckInterval))
	go r.run(ctx)
	return nil
}

// Stop 停止事件循环并强制撤掉全部订单
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.state != StateRunning && r.state != StatePaused {
		r.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", r.state)
	}
	r.mu.Unlock()

	r.logger.Info("quote engine stopping")
	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
	select {
	case <-r.doneChan:
	case <-time.After(10 * time.Second):
		r.logger.Warn("timeout waiting for engine loop to stop")
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer cancel()
	err := r.pipeline.Shutdown(ctx)
	if err != nil {
		r.logger.Error("failed to cancel orders on shutdown", zap.Error(err))
	}

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	r.logger.Info("quote engine stopped")
	return err
}

// Pause 暂停报价（仍处理回报）
func (r *Runner) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return fmt.Errorf("engine not running (state: %s)", r.state)
	}
	r.state = StatePaused
	r.logger.Info("quote engine paused")
	return nil
}

// Resume 恢复引擎
func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("engine not paused (state: %s)", r.state)
	}
	r.state = StateRunning
	r.logger.Info("quote engine resumed")
	return nil
}

// run 主事件循环
func (r *Runner) run(ctx context.Context) {
	defer close(r.doneChan)

	var staleC <-chan time.Time
	if r.config.StaleCheckInterval > 0 {
		t := time.NewTicker(r.config.StaleCheckInterval)
		defer t.Stop()
		staleC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case snap := <-r.snaps:
			r.onSnapshots(ctx, snap)
		case tr := <-r.trades:
			r.pipeline.OnTrade(tr)
		case ev, ok := <-r.events:
			if !ok {
				r.events = nil
				continue
			}
			r.onEvent(ev)
		case <-staleC:
			r.onStaleCheck(ctx)
		}
	}
}

// onSnapshots 取出队列中积压的快照，每个交易对只保留最新一个后批量处理。
func (r *Runner) onSnapshots(ctx context.Context, first market.Snapshot) {
	latest := map[string]market.Snapshot{first.Symbol: first}
drain:
	for {
		select {
		case s := <-r.snaps:
			latest[s.Symbol] = s
		default:
			break drain
		}
	}

	r.mu.RLock()
	paused := r.state == StatePaused
	r.mu.RUnlock()
	if paused {
		return
	}

	results := r.pipeline.ProcessBatch(ctx, latest)
	var errs int64
	for _, res := range results {
		if res.Err != nil {
			errs++
		}
	}
	r.statsMu.Lock()
	r.stats.TotalBatches++
	r.stats.TotalTicks += int64(len(results))
	r.stats.TotalErrors += errs
	r.stats.LastTickTime = time.Now()
	r.statsMu.Unlock()
}

func (r *Runner) onEvent(ev gateway.Event) {
	r.statsMu.Lock()
	r.stats.TotalEvents++
	r.statsMu.Unlock()
	if err := r.pipeline.OnVenueEvent(ev); err != nil {
		r.logger.Debug("venue event not applied",
			zap.String("symbol", ev.Symbol),
			zap.String("kind", ev.Kind.String()),
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
	}
}

func (r *Runner) onStaleCheck(ctx context.Context) {
	n, err := r.pipeline.RefreshStale(ctx)
	if err != nil {
		r.logger.Debug("stale refresh incomplete", zap.Error(err))
	}
	if n > 0 {
		r.statsMu.Lock()
		r.stats.StaleRefreshed += int64(n)
		r.statsMu.Unlock()
	}
}

// GetState 获取引擎状态
func (r *Runner) GetState() EngineState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// GetStatistics 获取统计信息
func (r *Runner) GetStatistics() Statistics {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}
