package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-engine/gateway"
	"quote-engine/market"
	"quote-engine/monitor"
	"quote-engine/monitor/metrics"
	"quote-engine/order"
	"quote-engine/quote"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingVenue 记录撤单请求的 force 标记。
type recordingVenue struct {
	*gateway.PaperVenue
	mu      sync.Mutex
	cancels []gateway.CancelRequest
}

func (v *recordingVenue) Cancel(ctx context.Context, req gateway.CancelRequest) error {
	v.mu.Lock()
	v.cancels = append(v.cancels, req)
	v.mu.Unlock()
	return v.PaperVenue.Cancel(ctx, req)
}

func (v *recordingVenue) Cancels() []gateway.CancelRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]gateway.CancelRequest(nil), v.cancels...)
}

func testSymbolConfig() SymbolConfig {
	cfg := DefaultSymbolConfig("BTCUSDT")
	cfg.BaseSize = 1
	cfg.MaxPosition = 10
	cfg.Signals.LatencyWindow = 5
	cfg.Orders.Constraints = order.SymbolConstraints{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001}
	cfg.Orders.MaxCreatePerSec = 100
	cfg.Orders.MaxCancelPerSec = 100
	cfg.Orders.MinTimeInBook = 0
	return cfg
}

func snapAt(symbol string, mid float64, ts time.Time) market.Snapshot {
	bid, ask := mid-0.01, mid+0.01
	s := market.Snapshot{
		Symbol: symbol, BestBid: bid, BestAsk: ask, BidSize: 20, AskSize: 20, Timestamp: ts,
	}
	for i := 0; i < 5; i++ {
		s.Bids = append(s.Bids, market.Level{Price: bid - float64(i)*0.01, Qty: 20})
		s.Asks = append(s.Asks, market.Level{Price: ask + float64(i)*0.01, Qty: 20})
	}
	return s
}

type fixture struct {
	pipeline *Pipeline
	venue    *recordingVenue
	rec      *metrics.Memory
	clk      *testClock
}

func newFixture(t *testing.T, stages StagesConfig, cfgs ...SymbolConfig) *fixture {
	t.Helper()
	if len(cfgs) == 0 {
		cfgs = []SymbolConfig{testSymbolConfig()}
	}
	clk := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	venue := &recordingVenue{PaperVenue: gateway.NewPaperVenue(4096)}
	rec := metrics.NewMemory()
	p := New(Config{Stages: stages}, venue, rec, nil)
	p.SetClock(clk.Now)
	for _, c := range cfgs {
		_, err := p.AddSymbol(c)
		require.NoError(t, err)
	}
	return &fixture{pipeline: p, venue: venue, rec: rec, clk: clk}
}

func (f *fixture) tick(t *testing.T, mid float64, latency time.Duration) quote.Context {
	t.Helper()
	s := snapAt("BTCUSDT", mid, f.clk.Now())
	s.Latency = latency
	qc, err := f.pipeline.Process(context.Background(), "BTCUSDT", s)
	require.NoError(t, err)
	return qc
}

func TestScenarioA_CalmMarket(t *testing.T) {
	f := newFixture(t, AllStages())
	qc := f.tick(t, 100, 0)

	d, ok := qc.Spread()
	require.True(t, ok)
	assert.InDelta(t, 10.0, d.SpreadBps, 1e-9)
	assert.Equal(t, quote.LevelNone, qc.Level())

	q, ok := qc.Quote()
	require.True(t, ok)
	assert.True(t, q.Valid())
	assert.Equal(t, 1.0, q.BidSize)
	assert.Equal(t, 1.0, q.AskSize)

	sp, _ := f.pipeline.Symbol("BTCUSDT")
	assert.Equal(t, 1, sp.Orders().ActiveCount(order.SideBuy))
	assert.Equal(t, 1, sp.Orders().ActiveCount(order.SideSell))
	for _, o := range sp.Orders().Orders() {
		assert.Equal(t, 1.0, o.Size)
	}
	placed, _ := qc.Metadata("placed")
	assert.Equal(t, "2", placed)
}

func TestScenarioB_VolatilitySpike(t *testing.T) {
	f := newFixture(t, AllStages())
	f.tick(t, 100, 0)
	f.clk.Advance(100 * time.Millisecond)
	qc := f.tick(t, 100.05, 0)

	g, ok := qc.Guard()
	require.True(t, ok)
	assert.Equal(t, quote.LevelSoft, g.Level)
	assert.True(t, g.HasReason(quote.ReasonVolatility))

	d, _ := qc.Spread()
	assert.Equal(t, 5.0, d.GuardBumpBps)
	assert.True(t, d.StepLimited)
	assert.InDelta(t, 18.0, d.SpreadBps, 1e-6)
	assert.Less(t, d.SpreadBps, 50.0)

	q, _ := qc.Quote()
	assert.Equal(t, 0.5, q.BidSize)
	assert.Equal(t, 0.5, q.AskSize)
}

func TestScenarioC_CompoundHardBreach(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.Guards.PnLMinSamples = 1000
	f := newFixture(t, AllStages(), cfg)

	// 延迟样本不足 5 个时不触发
	for i := 0; i < 5; i++ {
		qc := f.tick(t, 100, 700*time.Millisecond)
		require.Equal(t, quote.LevelNone, qc.Level())
		f.clk.Advance(100 * time.Millisecond)
	}
	sp, _ := f.pipeline.Symbol("BTCUSDT")
	require.Len(t, sp.Orders().Orders(), 2)

	// 外部成交把库存推到 95%
	_ = f.pipeline.OnVenueEvent(gateway.Event{
		Kind: gateway.EventFill, Symbol: "BTCUSDT", OrderID: "external", Side: order.SideBuy,
		Price: 100, FilledQty: 9.5, Time: f.clk.Now(),
	})
	require.Equal(t, 9.5, sp.Inventory().NetExposure())

	breach := f.clk.Now()
	qc := f.tick(t, 100, 700*time.Millisecond)
	g, _ := qc.Guard()
	require.Equal(t, quote.LevelHard, g.Level)
	assert.True(t, g.HasReason(quote.ReasonLatency))
	assert.True(t, g.HasReason(quote.ReasonInventory))
	assert.Equal(t, breach.Add(30*time.Second), g.HaltUntil)

	_, spreadRan := qc.Spread()
	assert.False(t, spreadRan)
	q, _ := qc.Quote()
	assert.True(t, q.Zero())
	assert.Empty(t, sp.Orders().Orders())
	cancels := f.venue.Cancels()
	require.Len(t, cancels, 2)
	for _, c := range cancels {
		assert.True(t, c.Force)
	}
	placedBefore := f.venue.Statistics()["place_order_count"]
	assert.Equal(t, 2, placedBefore)

	// 停机期间行情恢复也不报价
	f.clk.Advance(10 * time.Second)
	for i := 0; i < 5; i++ {
		qc = f.tick(t, 100, 0)
		g, _ = qc.Guard()
		assert.Equal(t, quote.LevelHard, g.Level)
		assert.Equal(t, []quote.GuardReason{quote.ReasonHaltCooldown}, g.Reasons)
		q, _ = qc.Quote()
		assert.True(t, q.Zero())
		f.clk.Advance(time.Second)
	}
	assert.Equal(t, placedBefore, f.venue.Statistics()["place_order_count"])
	assert.GreaterOrEqual(t, f.rec.Counter(monitor.MetricHaltSuppressedTick, map[string]string{"symbol": "BTCUSDT", "reason": "halt"}), 6.0)

	// 到期后库存已回落：重新评估为 NONE 并恢复报价
	_ = f.pipeline.OnVenueEvent(gateway.Event{
		Kind: gateway.EventFill, Symbol: "BTCUSDT", OrderID: "external-2", Side: order.SideSell,
		Price: 100, FilledQty: 9.5, Time: f.clk.Now(),
	})
	f.clk.Advance(20 * time.Second)
	qc = f.tick(t, 100, 0)
	assert.Equal(t, quote.LevelNone, qc.Level())
	assert.Equal(t, placedBefore+2, f.venue.Statistics()["place_order_count"])
}

func TestProcessValidationErrorIsolatedPerSymbol(t *testing.T) {
	eth := testSymbolConfig()
	eth.Symbol = "ETHUSDT"
	f := newFixture(t, AllStages(), testSymbolConfig(), eth)

	good := snapAt("BTCUSDT", 100, f.clk.Now())
	bad := snapAt("ETHUSDT", 50, f.clk.Now())
	bad.BestBid, bad.BestAsk = 51, 50 // crossed

	results := f.pipeline.ProcessBatch(context.Background(), map[string]market.Snapshot{
		"BTCUSDT": good,
		"ETHUSDT": bad,
	})
	require.Len(t, results, 2)
	assert.NoError(t, results["BTCUSDT"].Err)
	var verr *market.ValidationError
	assert.True(t, errors.As(results["ETHUSDT"].Err, &verr))

	btc, _ := f.pipeline.Symbol("BTCUSDT")
	ethSP, _ := f.pipeline.Symbol("ETHUSDT")
	assert.Len(t, btc.Orders().Orders(), 2)
	assert.Empty(t, ethSP.Orders().Orders())
	assert.Equal(t, 1.0, f.rec.Counter(monitor.MetricValidationErrors, map[string]string{"symbol": "ETHUSDT"}))
}

func TestProcessUnknownSymbol(t *testing.T) {
	f := newFixture(t, AllStages())
	_, err := f.pipeline.Process(context.Background(), "DOGEUSDT", snapAt("DOGEUSDT", 1, f.clk.Now()))
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = f.pipeline.AddSymbol(testSymbolConfig())
	assert.Error(t, err, "duplicate symbol")
}

func TestDisabledStagesAreIdentity(t *testing.T) {
	f := newFixture(t, StagesConfig{Emit: true})
	qc := f.tick(t, 100, 0)

	_, hasSpread := qc.Spread()
	_, hasGuard := qc.Guard()
	_, hasQueue := qc.Queue()
	assert.False(t, hasSpread)
	assert.False(t, hasGuard)
	assert.False(t, hasQueue)
	q, ok := qc.Quote()
	require.True(t, ok)
	assert.InDelta(t, 10.0, q.SpreadBps(), 0.5)
	_, timed := qc.Timing(StageEmit)
	assert.True(t, timed)
	_, timedSpread := qc.Timing(StageSpread)
	assert.False(t, timedSpread)
}

func TestNoEmitWithoutEmitStage(t *testing.T) {
	f := newFixture(t, StagesConfig{Guards: true, Spread: true})
	qc := f.tick(t, 100, 0)
	q, ok := qc.Quote()
	require.True(t, ok)
	assert.True(t, q.Valid())
	assert.Equal(t, 0, f.venue.Statistics()["place_order_count"])
}

func TestInventorySkewShiftsQuote(t *testing.T) {
	f := newFixture(t, StagesConfig{Spread: true, Inventory: true})
	sp, _ := f.pipeline.Symbol("BTCUSDT")
	sp.Inventory().Update(5, 100) // 50% 多头

	qc := f.tick(t, 100, 0)
	adj, ok := qc.Inventory()
	require.True(t, ok)
	assert.InDelta(t, 50.0, adj.InventoryPct, 1e-9)
	assert.Greater(t, adj.SkewBps, 0.0)
	assert.Less(t, adj.AskAdjustBps, 0.0)
	q, _ := qc.Quote()
	assert.True(t, q.Valid())
	assert.Less(t, q.AskPrice, 100.05)
}

func TestVenueEventsFlowIntoManager(t *testing.T) {
	f := newFixture(t, AllStages())
	f.tick(t, 100, 0)
	sp, _ := f.pipeline.Symbol("BTCUSDT")

	// 消费纸面交易所回报：两笔 Ack
	for i := 0; i < 2; i++ {
		ev := <-f.venue.Events()
		require.Equal(t, gateway.EventAck, ev.Kind)
		require.NoError(t, f.pipeline.OnVenueEvent(ev))
	}
	for _, o := range sp.Orders().Orders() {
		assert.Equal(t, order.StatusOpen, o.Status)
	}

	// 盘口穿过买单价：纸面撮合成交
	var bid string
	for _, o := range sp.Orders().Orders() {
		if o.Side == order.SideBuy {
			bid = o.VenueID
		}
	}
	s := snapAt("BTCUSDT", 99.5, f.clk.Now())
	f.venue.OnSnapshot(s)
	ev := <-f.venue.Events()
	require.Equal(t, gateway.EventFill, ev.Kind)
	require.Equal(t, bid, ev.OrderID)
	require.NoError(t, f.pipeline.OnVenueEvent(ev))
	assert.Equal(t, 1.0, sp.Inventory().NetExposure())
	assert.Equal(t, 0, sp.Orders().ActiveCount(order.SideBuy))

	assert.ErrorIs(t, f.pipeline.OnVenueEvent(gateway.Event{Kind: gateway.EventAck, Symbol: "XRPUSDT"}), ErrUnknownSymbol)
}

// 用户数据流回报以客户端 ID 定位订单，交易所 ID 单独携带。
func TestStreamAckByClientID(t *testing.T) {
	f := newFixture(t, AllStages())
	f.tick(t, 100, 0)
	sp, _ := f.pipeline.Symbol("BTCUSDT")

	orders := sp.Orders().Orders()
	require.Len(t, orders, 2)
	for _, o := range orders {
		require.Equal(t, order.StatusPending, o.Status)
		require.NoError(t, f.pipeline.OnVenueEvent(gateway.Event{
			Kind: gateway.EventAck, Symbol: "BTCUSDT", OrderID: o.ID, VenueOrderID: o.VenueID,
		}))
		got, ok := sp.Orders().Get(o.ID)
		require.True(t, ok)
		assert.Equal(t, order.StatusOpen, got.Status)
		assert.Equal(t, o.VenueID, got.VenueID)
	}
}

func TestUpdateSymbolConfig(t *testing.T) {
	f := newFixture(t, AllStages())
	cfg := testSymbolConfig()
	cfg.Spread.BaseSpreadBps = 20
	cfg.Spread.MaxStepBps = 0
	require.NoError(t, f.pipeline.UpdateSymbolConfig(cfg))

	qc := f.tick(t, 100, 0)
	d, _ := qc.Spread()
	assert.InDelta(t, 20.0, d.SpreadBps, 1e-9)

	bad := cfg
	bad.BaseSize = 0
	assert.Error(t, f.pipeline.UpdateSymbolConfig(bad))
	bad = cfg
	bad.Symbol = "NOPE"
	assert.ErrorIs(t, f.pipeline.UpdateSymbolConfig(bad), ErrUnknownSymbol)
}

func TestShutdownForceCancels(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.Orders.MinTimeInBook = time.Hour
	f := newFixture(t, AllStages(), cfg)
	f.tick(t, 100, 0)
	require.NoError(t, f.pipeline.Shutdown(context.Background()))
	sp, _ := f.pipeline.Symbol("BTCUSDT")
	assert.Empty(t, sp.Orders().Orders())
	for _, c := range f.venue.Cancels() {
		assert.True(t, c.Force)
	}
}

// 撤单限频耗尽时，停机按窗口重试直到撤完。
func TestShutdownRetriesAcrossRateWindows(t *testing.T) {
	cfg := testSymbolConfig()
	cfg.Orders.MaxCancelPerSec = 1
	cfg.Orders.RateWindow = 20 * time.Millisecond
	f := newFixture(t, AllStages(), cfg)
	f.tick(t, 100, 0)
	sp, _ := f.pipeline.Symbol("BTCUSDT")
	require.Len(t, sp.Orders().Orders(), 2)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
				f.clk.Advance(time.Second)
			}
		}
	}()
	err := f.pipeline.Shutdown(context.Background())
	close(stop)

	require.NoError(t, err)
	assert.Empty(t, sp.Orders().Orders())
	assert.Len(t, f.venue.Cancels(), 2)
	assert.GreaterOrEqual(t, f.rec.CounterTotal(monitor.MetricRateLimitRejects), 1.0)
}

func TestQuoteNeverCrossed(t *testing.T) {
	f := newFixture(t, AllStages())
	sp, _ := f.pipeline.Symbol("BTCUSDT")
	mids := []float64{100, 100.2, 99.7, 101, 100.4, 99.1, 100, 100.03}
	for i, mid := range mids {
		if i%3 == 0 {
			sp.Inventory().Update(float64(i%5)-2, mid)
		}
		qc := f.tick(t, mid, time.Duration(i*40)*time.Millisecond)
		q, _ := qc.Quote()
		if qc.Level() == quote.LevelHard {
			assert.True(t, q.Zero())
			continue
		}
		assert.True(t, q.BidPrice < q.AskPrice, "tick %d crossed: %+v", i, q)
		f.clk.Advance(200 * time.Millisecond)
	}
}

func TestTransitionHook(t *testing.T) {
	clk := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := New(DefaultConfig(), gateway.NewPaperVenue(64), nil, nil)
	p.SetClock(clk.Now)
	var got []quote.GuardLevel
	p.SetTransitionHook(func(symbol string, old, next quote.GuardAssessment) {
		assert.Equal(t, "BTCUSDT", symbol)
		got = append(got, next.Level)
	})
	_, err := p.AddSymbol(testSymbolConfig())
	require.NoError(t, err)

	_, err = p.Process(context.Background(), "BTCUSDT", snapAt("BTCUSDT", 100, clk.Now()))
	require.NoError(t, err)
	clk.Advance(100 * time.Millisecond)
	_, err = p.Process(context.Background(), "BTCUSDT", snapAt("BTCUSDT", 100.05, clk.Now()))
	require.NoError(t, err)
	assert.Equal(t, []quote.GuardLevel{quote.LevelSoft}, got)
}
