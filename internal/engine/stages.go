package engine

import (
	"context"
	"strconv"

	"quote-engine/internal/order_manager"
	"quote-engine/internal/risk"
	"quote-engine/internal/strategy"
	"quote-engine/market"
	"quote-engine/monitor"
	"quote-engine/order"
	"quote-engine/quote"
)

const (
	StageGuards    = "guards"
	StageSpread    = "spread"
	StageInventory = "inventory"
	StageQueue     = "queue"
	StageEmit      = "emit"
)

// StageFunc 接收上下文并返回新上下文，不修改入参。
type StageFunc func(ctx context.Context, qc quote.Context) (quote.Context, error)

// Stage 具名 stage。SkipOnHard 的 stage 在 HARD 时跳过。
type Stage struct {
	Name       string
	SkipOnHard bool
	Run        StageFunc
}

// StagesConfig 各 stage 开关，关闭的 stage 不加入流水线。
type StagesConfig struct {
	Guards    bool
	Spread    bool
	Inventory bool
	Queue     bool
	Emit      bool
}

// AllStages 全部启用
func AllStages() StagesConfig {
	return StagesConfig{Guards: true, Spread: true, Inventory: true, Queue: true, Emit: true}
}

// buildStages 按固定顺序组装：guards, spread, inventory, queue, emit。
func (sp *SymbolPipeline) buildStages(cfg StagesConfig) []Stage {
	var stages []Stage
	if cfg.Guards {
		stages = append(stages, Stage{Name: StageGuards, Run: sp.guardStage})
	}
	if cfg.Spread {
		stages = append(stages, Stage{Name: StageSpread, SkipOnHard: true, Run: sp.spreadStage})
	}
	if cfg.Inventory {
		stages = append(stages, Stage{Name: StageInventory, SkipOnHard: true, Run: sp.inventoryStage})
	}
	if cfg.Queue {
		stages = append(stages, Stage{Name: StageQueue, SkipOnHard: true, Run: sp.queueStage})
	}
	if cfg.Emit {
		stages = append(stages, Stage{Name: StageEmit, Run: sp.emitStage})
	}
	return stages
}

func (sp *SymbolPipeline) guardStage(_ context.Context, qc quote.Context) (quote.Context, error) {
	now := qc.Started
	sig := sp.signals.Signals()
	in := risk.Inputs{
		VolBps:         sig.VolBps,
		LatencyP95Ms:   sig.LatencyP95Ms,
		LatencySamples: sig.LatencySamples,
		PnLZ:           sig.PnLZ,
		PnLSamples:     sig.PnLSamples,
		InventoryPct:   strategy.InventoryPct(sp.inventory.NetExposure(), sp.cfg.MaxPosition),
		TakerFills:     sp.takers.TakerCount(now),
	}
	a := sp.guards.Assess(in, now)
	for _, r := range a.Reasons {
		sp.rec.Inc(monitor.MetricGuardReasons, map[string]string{"symbol": sp.cfg.Symbol, "reason": string(r)})
	}
	if a.Level == quote.LevelHard {
		sp.rec.Inc(monitor.MetricHaltSuppressedTick, map[string]string{"symbol": sp.cfg.Symbol, "reason": "halt"})
	}
	return qc.WithGuard(a), nil
}

func (sp *SymbolPipeline) spreadStage(_ context.Context, qc quote.Context) (quote.Context, error) {
	g, ok := qc.Guard()
	if !ok {
		g = quote.GuardAssessment{Level: quote.LevelNone, SizeScale: 1}
	}
	d := sp.spread.Decide(sp.signals.Signals(), g, qc.Started)
	labels := map[string]string{"symbol": sp.cfg.Symbol}
	sp.rec.Set(monitor.MetricSpreadBps, d.SpreadBps, labels)
	for name, v := range map[string]float64{
		"volatility": d.Contributions.Volatility,
		"liquidity":  d.Contributions.Liquidity,
		"latency":    d.Contributions.Latency,
		"pnl":        d.Contributions.PnL,
	} {
		sp.rec.Set(monitor.MetricSpreadFactor, v, map[string]string{"symbol": sp.cfg.Symbol, "factor": name})
	}
	qc = qc.WithSpread(d)
	return qc.WithQuote(sp.symmetricQuote(qc.Snapshot, d.SpreadBps, sizeScale(qc))), nil
}

func (sp *SymbolPipeline) inventoryStage(_ context.Context, qc quote.Context) (quote.Context, error) {
	q := sp.currentQuote(qc)
	pct := strategy.InventoryPct(sp.inventory.NetExposure(), sp.cfg.MaxPosition)
	res := strategy.ApplySkew(sp.cfg.Skew, pct, q.BidPrice, q.AskPrice)
	q.BidPrice, q.AskPrice = res.BidPrice, res.AskPrice
	qc = qc.WithInventory(quote.InventoryAdjustment{
		InventoryPct: pct,
		SkewBps:      res.SkewBps,
		BidAdjustBps: res.BidAdjustBps,
		AskAdjustBps: res.AskAdjustBps,
		Reverted:     res.Reverted,
	})
	return qc.WithQuote(q), nil
}

func (sp *SymbolPipeline) queueStage(_ context.Context, qc quote.Context) (quote.Context, error) {
	q := sp.currentQuote(qc)
	snap := qc.Snapshot
	mid := snap.Mid()
	bid, bidPos, _ := sp.repricer.Nudge(snap, market.Bid, q.BidPrice, mid, qc.Started)
	ask, askPos, _ := sp.repricer.Nudge(snap, market.Ask, q.AskPrice, mid, qc.Started)
	adj := quote.QueueAdjustment{BidAheadQty: bidPos.AheadQty, AskAheadQty: askPos.AheadQty}
	if bid < ask {
		if q.BidPrice > 0 {
			adj.BidNudgeBps = (bid - q.BidPrice) / q.BidPrice * 1e4
		}
		if q.AskPrice > 0 {
			adj.AskNudgeBps = (q.AskPrice - ask) / q.AskPrice * 1e4
		}
		q.BidPrice, q.AskPrice = bid, ask
	}
	return qc.WithQueue(adj).WithQuote(q), nil
}

// emitStage HARD 时强制撤掉全部订单并输出零数量报价，否则与在簿订单做差分。
func (sp *SymbolPipeline) emitStage(ctx context.Context, qc quote.Context) (quote.Context, error) {
	mid := qc.Snapshot.Mid()
	if qc.Halted() {
		n, err := sp.orders.CancelAll(ctx, true)
		if err != nil {
			sp.log.LogError(err, map[string]interface{}{"symbol": sp.cfg.Symbol, "op": "halt_cancel_all"})
		}
		q := sp.symmetricQuote(qc.Snapshot, sp.spread.Config().MaxSpreadBps, 0)
		return qc.WithQuote(q).WithMetadata("canceled", strconv.Itoa(n)), nil
	}

	q := sp.currentQuote(qc)
	if !q.Valid() {
		// 上游调整导致交叉时退回对称报价
		q = sp.symmetricQuote(qc.Snapshot, sp.spread.Config().BaseSpreadBps, sizeScale(qc))
		qc = qc.WithMetadata("emit_fallback", "crossed")
	}
	c := sp.cfg.Orders.Constraints
	q.BidPrice = c.RoundPrice(q.BidPrice, order.SideBuy)
	q.AskPrice = c.RoundPrice(q.AskPrice, order.SideSell)

	res := sp.orders.Reconcile(ctx, q, mid)
	if err := res.Err(); err != nil {
		sp.log.LogError(err, map[string]interface{}{"symbol": sp.cfg.Symbol, "op": "reconcile", "trace_id": qc.TraceID})
	}
	return qc.WithQuote(q).
		WithMetadata("placed", strconv.Itoa(res.Count(order_manager.OpPlace))).
		WithMetadata("replaced", strconv.Itoa(res.Count(order_manager.OpReplace))).
		WithMetadata("canceled", strconv.Itoa(res.Count(order_manager.OpCancel))).
		WithMetadata("rejected", strconv.Itoa(res.Rejected())), nil
}

// currentQuote 前序 stage 未产出报价时（spread stage 关闭）使用基础价差。
func (sp *SymbolPipeline) currentQuote(qc quote.Context) quote.Quote {
	if q, ok := qc.Quote(); ok {
		return q
	}
	return sp.symmetricQuote(qc.Snapshot, sp.spread.Config().BaseSpreadBps, sizeScale(qc))
}

func (sp *SymbolPipeline) symmetricQuote(snap market.Snapshot, spreadBps, scale float64) quote.Quote {
	mid := snap.Mid()
	half := mid * spreadBps / 2 / 1e4
	size := sp.cfg.BaseSize * scale
	return quote.Quote{
		BidPrice: mid - half,
		BidSize:  size,
		AskPrice: mid + half,
		AskSize:  size,
	}
}

func sizeScale(qc quote.Context) float64 {
	g, ok := qc.Guard()
	if !ok {
		return 1
	}
	if g.Level == quote.LevelHard {
		return 0
	}
	if g.SizeScale <= 0 {
		return 1
	}
	return g.SizeScale
}
