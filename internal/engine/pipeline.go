package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quote-engine/gateway"
	"quote-engine/infrastructure/logger"
	"quote-engine/market"
	"quote-engine/monitor"
	"quote-engine/quote"
)

// ErrUnknownSymbol 未注册的交易对。
var ErrUnknownSymbol = errors.New("unknown symbol")

// Config pipeline 全局配置
type Config struct {
	Stages         StagesConfig
	MaxConcurrency int // ProcessBatch 并发上限，<=0 不限制
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Stages: AllStages()}
}

// TransitionHook 风控等级或停机截止时间变化时回调，在交易对锁内调用，不可阻塞。
type TransitionHook func(symbol string, old, next quote.GuardAssessment)

// Result 单个交易对一次 tick 的结果。
type Result struct {
	Context quote.Context
	Err     error
}

// Pipeline 多交易对报价流水线，每个交易对独立加锁，互不影响。
type Pipeline struct {
	cfg     Config
	venue   gateway.Venue
	rec     monitor.Recorder
	log     *logger.Logger
	now     func() time.Time
	hook    TransitionHook
	symbols map[string]*SymbolPipeline
	mu      sync.RWMutex
}

// New 创建流水线
func New(cfg Config, venue gateway.Venue, rec monitor.Recorder, log *logger.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		venue:   venue,
		rec:     monitor.OrNop(rec),
		log:     logger.OrNop(log),
		now:     time.Now,
		symbols: make(map[string]*SymbolPipeline),
	}
}

// SetClock 注入时钟，需在 AddSymbol 之前调用。
func (p *Pipeline) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetTransitionHook 注册风控状态变化回调，需在 AddSymbol 之前调用。
func (p *Pipeline) SetTransitionHook(hook TransitionHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = hook
}

// AddSymbol 注册交易对
func (p *Pipeline) AddSymbol(cfg SymbolConfig) (*SymbolPipeline, error) {
	if err := validateSymbolConfig(cfg); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.symbols[cfg.Symbol]; ok {
		return nil, fmt.Errorf("symbol %s already registered", cfg.Symbol)
	}
	sp := newSymbolPipeline(cfg, p.venue, p.rec, p.log, p.now, p.hook)
	sp.stages = sp.buildStages(p.cfg.Stages)
	p.symbols[cfg.Symbol] = sp
	return sp, nil
}

// Symbol 查询交易对
func (p *Pipeline) Symbol(symbol string) (*SymbolPipeline, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sp, ok := p.symbols[symbol]
	return sp, ok
}

// Symbols 排序后的交易对列表
func (p *Pipeline) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// UpdateSymbolConfig 热更新某个交易对
func (p *Pipeline) UpdateSymbolConfig(cfg SymbolConfig) error {
	sp, ok := p.Symbol(cfg.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, cfg.Symbol)
	}
	return sp.UpdateConfig(cfg)
}

// Process 对单个交易对执行一次 tick。校验失败只中止该交易对的本次 tick。
func (p *Pipeline) Process(ctx context.Context, symbol string, snap market.Snapshot) (quote.Context, error) {
	sp, ok := p.Symbol(symbol)
	if !ok {
		return quote.Context{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if snap.Symbol == "" {
		snap.Symbol = symbol
	}
	qc, err := sp.process(ctx, snap, uuid.NewString())
	if err != nil {
		var verr *market.ValidationError
		if errors.As(err, &verr) {
			p.log.Debug("snapshot rejected", zap.String("symbol", symbol), zap.Error(err))
		} else {
			p.log.Warn("tick failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return qc, err
}

// ProcessBatch 并发处理多个交易对，单个失败不影响其他交易对。
func (p *Pipeline) ProcessBatch(ctx context.Context, snaps map[string]market.Snapshot) map[string]Result {
	results := make(map[string]Result, len(snaps))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.MaxConcurrency > 0 {
		g.SetLimit(p.cfg.MaxConcurrency)
	}
	for symbol, snap := range snaps {
		g.Go(func() error {
			qc, err := p.Process(gctx, symbol, snap)
			mu.Lock()
			results[symbol] = Result{Context: qc, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// OnVenueEvent 按交易对路由交易所回报。
func (p *Pipeline) OnVenueEvent(ev gateway.Event) error {
	sp, ok := p.Symbol(ev.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, ev.Symbol)
	}
	return sp.onEvent(ev)
}

// OnTrade 市场成交
func (p *Pipeline) OnTrade(tr gateway.Trade) {
	if sp, ok := p.Symbol(tr.Symbol); ok {
		sp.onTrade(tr)
	}
}

// RefreshStale 巡检全部交易对的过期订单，返回处理数量。
func (p *Pipeline) RefreshStale(ctx context.Context) (int, error) {
	var errs []error
	total := 0
	for _, s := range p.Symbols() {
		sp, _ := p.Symbol(s)
		n, err := sp.refreshStale(ctx)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
		}
	}
	return total, errors.Join(errs...)
}

// Shutdown 强制撤掉所有交易对的订单。
func (p *Pipeline) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range p.Symbols() {
		sp, _ := p.Symbol(s)
		n, err := sp.shutdown(ctx)
		p.log.Info("shutdown cancel", zap.String("symbol", s), zap.Int("canceled", n), zap.Error(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
