package strategy

import (
	"math"
	"testing"
	"time"

	"quote-engine/market"
)

func snapWithMid(mid, qty float64) market.Snapshot {
	return market.Snapshot{
		Symbol:    "BTCUSDT",
		BestBid:   mid - 0.01,
		BestAsk:   mid + 0.01,
		Bids:      []market.Level{{Price: mid - 0.01, Qty: qty}, {Price: mid - 0.02, Qty: qty}},
		Asks:      []market.Level{{Price: mid + 0.01, Qty: qty * 3}},
		Timestamp: time.Unix(0, 0),
	}
}

func TestSignalTrackerVolatility(t *testing.T) {
	s := NewSignalTracker(DefaultSignalConfig())
	s.OnSnapshot(snapWithMid(100, 1))
	if got := s.Signals().VolBps; got != 0 {
		t.Fatalf("vol after first tick = %v, want 0", got)
	}
	s.OnSnapshot(snapWithMid(100.05, 1))
	if got := s.Signals().VolBps; math.Abs(got-5) > 1e-6 {
		t.Fatalf("vol = %v, want 5", got)
	}
}

func TestSignalTrackerLiquidity(t *testing.T) {
	s := NewSignalTracker(SignalConfig{LiquidityLevels: 5})
	s.OnSnapshot(snapWithMid(100, 2))
	// 买侧 2+2，卖侧 6，平均 5
	if got := s.Signals().LiquidityQty; got != 5 {
		t.Fatalf("liquidity = %v, want 5", got)
	}
}

func TestSignalTrackerLatencyAndPnL(t *testing.T) {
	s := NewSignalTracker(SignalConfig{LatencyWindow: 3, PnLWindow: 4})
	for _, ms := range []int{10, 20, 700, 30} {
		s.RecordLatency(time.Duration(ms) * time.Millisecond)
	}
	sig := s.Signals()
	if sig.LatencySamples != 3 {
		t.Fatalf("latency samples = %d, want 3 (window)", sig.LatencySamples)
	}
	if sig.LatencyP95Ms < 600 {
		t.Fatalf("p95 = %v, want the 700ms outlier", sig.LatencyP95Ms)
	}

	for i := 0; i < 4; i++ {
		s.RecordPnL(1)
	}
	if z := s.Signals().PnLZ; z != 0 {
		t.Fatalf("flat pnl z = %v, want 0", z)
	}
	s.RecordPnL(-10)
	sig = s.Signals()
	if sig.PnLSamples != 4 {
		t.Fatalf("pnl samples = %d", sig.PnLSamples)
	}
	if sig.PnLZ >= 0 {
		t.Fatalf("drawdown z = %v, want negative", sig.PnLZ)
	}
}
