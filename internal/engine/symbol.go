package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"quote-engine/gateway"
	"quote-engine/infrastructure/logger"
	"quote-engine/internal/order_manager"
	"quote-engine/internal/risk"
	"quote-engine/internal/strategy"
	"quote-engine/inventory"
	"quote-engine/market"
	"quote-engine/monitor"
	"quote-engine/order"
	"quote-engine/quote"
)

// SymbolConfig 单个交易对的组件配置。
type SymbolConfig struct {
	Symbol      string
	BaseSize    float64
	MaxPosition float64
	TakerWindow time.Duration

	Signals strategy.SignalConfig
	Spread  strategy.AdaptiveSpreadConfig
	Guards  risk.GuardConfig
	Orders  order_manager.Config
	Skew    strategy.InventorySkewConfig
	Queue   strategy.QueueAwareConfig
}

// DefaultSymbolConfig 返回默认配置
func DefaultSymbolConfig(symbol string) SymbolConfig {
	return SymbolConfig{
		Symbol:      symbol,
		BaseSize:    0.01,
		MaxPosition: 1,
		TakerWindow: time.Minute,
		Signals:     strategy.DefaultSignalConfig(),
		Spread:      strategy.DefaultAdaptiveSpreadConfig(),
		Guards:      risk.DefaultGuardConfig(),
		Orders:      order_manager.DefaultConfig(symbol),
		Skew:        strategy.DefaultInventorySkewConfig(),
		Queue:       strategy.DefaultQueueAwareConfig(),
	}
}

func validateSymbolConfig(cfg SymbolConfig) error {
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.BaseSize <= 0 {
		return fmt.Errorf("symbol %s base size must be > 0", cfg.Symbol)
	}
	if cfg.MaxPosition <= 0 {
		return fmt.Errorf("symbol %s max position must be > 0", cfg.Symbol)
	}
	return nil
}

// SymbolPipeline 单个交易对的全部状态，tick 与回报都在 mu 下串行处理。
type SymbolPipeline struct {
	mu  sync.Mutex
	cfg SymbolConfig

	signals   *strategy.SignalTracker
	spread    *strategy.SpreadEstimator
	guards    *risk.Guards
	takers    *risk.TakerTracker
	repricer  *strategy.QueueRepricer
	orders    *order_manager.Manager
	inventory *inventory.Tracker
	position  *inventory.Sync

	stages []Stage
	last   quote.Context
	ticks  int64

	rec  monitor.Recorder
	log  *logger.Logger
	now  func() time.Time
	hook TransitionHook
}

func newSymbolPipeline(cfg SymbolConfig, venue gateway.Venue, rec monitor.Recorder, log *logger.Logger, now func() time.Time, hook TransitionHook) *SymbolPipeline {
	cfg.Orders.Symbol = cfg.Symbol
	if cfg.TakerWindow <= 0 {
		cfg.TakerWindow = time.Minute
	}
	tracker := &inventory.Tracker{}
	sp := &SymbolPipeline{
		cfg:       cfg,
		signals:   strategy.NewSignalTracker(cfg.Signals),
		spread:    strategy.NewSpreadEstimator(cfg.Spread),
		guards:    risk.NewGuards(cfg.Guards),
		takers:    risk.NewTakerTracker(cfg.TakerWindow),
		repricer:  strategy.NewQueueRepricer(cfg.Queue),
		orders:    order_manager.NewManager(cfg.Orders, venue, rec, log),
		inventory: tracker,
		position:  &inventory.Sync{Tracker: tracker},
		rec:       rec,
		log:       log,
		now:       now,
		hook:      hook,
	}
	sp.orders.SetClock(now)
	sp.guards.SetTransitionCallback(sp.onGuardTransition)
	return sp
}

func (sp *SymbolPipeline) onGuardTransition(old, next quote.GuardAssessment) {
	labels := map[string]string{"symbol": sp.cfg.Symbol, "from": old.Level.String(), "to": next.Level.String()}
	sp.rec.Inc(monitor.MetricGuardTransitions, labels)
	sp.rec.Set(monitor.MetricGuardLevel, float64(next.Level), map[string]string{"symbol": sp.cfg.Symbol})
	reasons := make([]string, 0, len(next.Reasons))
	for _, r := range quote.SortReasons(next.Reasons) {
		reasons = append(reasons, string(r))
	}
	sp.log.LogRisk("guard_transition", map[string]interface{}{
		"symbol":     sp.cfg.Symbol,
		"from":       old.Level.String(),
		"to":         next.Level.String(),
		"reasons":    reasons,
		"halt_until": next.HaltUntil,
	})
	if sp.hook != nil {
		sp.hook(sp.cfg.Symbol, old, next)
	}
}

// Symbol 交易对名称
func (sp *SymbolPipeline) Symbol() string { return sp.cfg.Symbol }

// Orders 订单管理器
func (sp *SymbolPipeline) Orders() *order_manager.Manager { return sp.orders }

// Guards 风控状态机
func (sp *SymbolPipeline) Guards() *risk.Guards { return sp.guards }

// Inventory 仓位跟踪
func (sp *SymbolPipeline) Inventory() *inventory.Tracker { return sp.inventory }

// Last 最近一次 tick 的上下文
func (sp *SymbolPipeline) Last() quote.Context {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.last
}

// Config 当前配置
func (sp *SymbolPipeline) Config() SymbolConfig {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.cfg
}

// UpdateConfig 在 tick 之间应用新参数，累计状态（价差、停机、订单）保留。
func (sp *SymbolPipeline) UpdateConfig(cfg SymbolConfig) error {
	if err := validateSymbolConfig(cfg); err != nil {
		return err
	}
	if cfg.Symbol != sp.cfg.Symbol {
		return fmt.Errorf("config for %s applied to %s", cfg.Symbol, sp.cfg.Symbol)
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	cfg.Orders.Symbol = cfg.Symbol
	if cfg.TakerWindow <= 0 {
		cfg.TakerWindow = sp.cfg.TakerWindow
	}
	sp.spread.UpdateConfig(cfg.Spread)
	sp.guards.UpdateConfig(cfg.Guards)
	sp.repricer.UpdateConfig(cfg.Queue)
	sp.orders.UpdateConfig(cfg.Orders)
	sp.cfg = cfg
	return nil
}

// process 执行一次 tick。
func (sp *SymbolPipeline) process(ctx context.Context, snap market.Snapshot, traceID string) (quote.Context, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	start := sp.now()
	labels := map[string]string{"symbol": sp.cfg.Symbol}
	if err := snap.Validate(); err != nil {
		sp.rec.Inc(monitor.MetricValidationErrors, labels)
		return quote.Context{}, err
	}
	sp.signals.OnSnapshot(snap)
	sp.orders.OnBook(snap)

	qc := quote.NewContext(sp.cfg.Symbol, traceID, snap, start)
	for _, st := range sp.stages {
		if st.SkipOnHard && qc.Halted() {
			qc = qc.WithMetadata(st.Name, "skipped_hard")
			continue
		}
		began := time.Now()
		next, err := st.Run(ctx, qc)
		elapsed := time.Since(began)
		if err != nil {
			return qc, fmt.Errorf("stage %s: %w", st.Name, err)
		}
		qc = next.WithTiming(st.Name, elapsed)
		sp.rec.Observe(monitor.MetricStageLatency, elapsed.Seconds(), map[string]string{"symbol": sp.cfg.Symbol, "stage": st.Name})
	}

	tick := sp.now().Sub(start) + snap.Latency
	sp.signals.RecordLatency(tick)
	sp.rec.Observe(monitor.MetricTickLatency, tick.Seconds(), labels)
	pos := sp.position.Snapshot(snap.Mid())
	sp.signals.RecordPnL(pos.Total)

	sp.ticks++
	sp.last = qc
	sp.logQuote(qc)
	return qc, nil
}

func (sp *SymbolPipeline) logQuote(qc quote.Context) {
	q, _ := qc.Quote()
	fields := map[string]interface{}{
		"symbol":     qc.Symbol,
		"trace_id":   qc.TraceID,
		"level":      qc.Level().String(),
		"bid":        q.BidPrice,
		"ask":        q.AskPrice,
		"bid_size":   q.BidSize,
		"ask_size":   q.AskSize,
		"spread_bps": q.SpreadBps(),
	}
	if d, ok := qc.Spread(); ok {
		fields["adaptive_bps"] = d.SpreadBps
	}
	sp.log.LogQuote(fields)
}

// onEvent 处理交易所异步回报。成交即使找不到跟踪订单也计入仓位。
func (sp *SymbolPipeline) onEvent(ev gateway.Event) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	switch ev.Kind {
	case gateway.EventAck:
		venueID := ev.VenueOrderID
		if venueID == "" {
			venueID = ev.OrderID
		}
		return sp.orders.OnAck(ev.OrderID, venueID)
	case gateway.EventReject:
		return sp.orders.OnReject(ev.OrderID, ev.Reason)
	case gateway.EventCanceled:
		return sp.orders.OnCanceled(ev.OrderID)
	case gateway.EventFill:
		_, err := sp.orders.OnFill(ev.OrderID, ev.FilledQty, ev.Price)
		delta := ev.FilledQty
		if ev.Side == order.SideSell {
			delta = -delta
		}
		sp.inventory.Update(delta, ev.Price)
		sp.inventory.AddFee(ev.FilledQty * ev.Price * sp.cfg.Orders.FeeBps / 1e4)
		ts := ev.Time
		if ts.IsZero() {
			ts = sp.now()
		}
		sp.takers.RecordFill(ev.Taker, ts)
		sp.log.LogTrade("fill", map[string]interface{}{
			"symbol": sp.cfg.Symbol, "order_id": ev.OrderID, "side": string(ev.Side),
			"price": ev.Price, "qty": ev.FilledQty, "taker": ev.Taker,
			"net": sp.inventory.NetExposure(),
		})
		return err
	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// onTrade 市场成交消耗排队量。
func (sp *SymbolPipeline) onTrade(tr gateway.Trade) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.orders.OnTrade(tr.RestingSide, tr.Price, tr.Qty)
}

// refreshStale 巡检过期订单，停机期间不刷新（emit 已撤单）。
func (sp *SymbolPipeline) refreshStale(ctx context.Context) (int, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.last.Halted() {
		return 0, nil
	}
	return sp.orders.RefreshStale(ctx, sp.now(), 0)
}

// shutdownRetries 撤单被限频时最多等待的窗口数。
const shutdownRetries = 10

// shutdown 强制撤掉全部订单；被限频时等一个窗口再撤，直到撤完或 ctx 结束。
func (sp *SymbolPipeline) shutdown(ctx context.Context) (int, error) {
	wait := sp.orders.Config().RateWindow
	total := 0
	for attempt := 0; ; attempt++ {
		sp.mu.Lock()
		n, err := sp.orders.CancelAll(ctx, true)
		left := sp.orders.ActiveTotal()
		sp.mu.Unlock()
		total += n
		if err == nil || left == 0 || !errors.Is(err, order_manager.ErrRateLimitExceeded) || attempt >= shutdownRetries {
			return total, err
		}
		select {
		case <-ctx.Done():
			return total, err
		case <-time.After(wait):
		}
	}
}
