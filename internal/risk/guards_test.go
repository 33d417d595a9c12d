package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-engine/quote"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func calmInputs() Inputs {
	return Inputs{
		VolBps:         0.2,
		LatencyP95Ms:   30,
		LatencySamples: 50,
		PnLZ:           0.1,
		PnLSamples:     30,
		InventoryPct:   10,
		TakerFills:     0,
	}
}

func TestEvaluateTriggers(t *testing.T) {
	cfg := DefaultGuardConfig()
	tests := []struct {
		name   string
		mutate func(*Inputs)
		want   quote.GuardLevel
	}{
		{"calm", func(*Inputs) {}, quote.LevelNone},
		{"vol soft", func(in *Inputs) { in.VolBps = 4 }, quote.LevelSoft},
		{"vol hard", func(in *Inputs) { in.VolBps = 8.5 }, quote.LevelHard},
		{"latency soft", func(in *Inputs) { in.LatencyP95Ms = 300 }, quote.LevelSoft},
		{"latency ignored without samples", func(in *Inputs) { in.LatencyP95Ms = 900; in.LatencySamples = 1 }, quote.LevelNone},
		{"pnl z soft", func(in *Inputs) { in.PnLZ = -2.5 }, quote.LevelSoft},
		{"pnl z positive", func(in *Inputs) { in.PnLZ = 5 }, quote.LevelNone},
		{"short inventory hard", func(in *Inputs) { in.InventoryPct = -95 }, quote.LevelHard},
		{"taker soft", func(in *Inputs) { in.TakerFills = 5 }, quote.LevelSoft},
		{"soft plus hard", func(in *Inputs) { in.VolBps = 4; in.TakerFills = 12 }, quote.LevelHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := calmInputs()
			tt.mutate(&in)
			got, results := EvaluateTriggers(cfg, in)
			assert.Equal(t, tt.want, got)
			assert.Len(t, results, 5)
		})
	}
}

// 连续量恰好等于阈值不触发，吃单计数等于阈值即触发。
func TestEvaluateTriggers_ExactThresholds(t *testing.T) {
	cfg := DefaultGuardConfig()
	tests := []struct {
		name   string
		mutate func(*Inputs)
		want   quote.GuardLevel
	}{
		{"vol at soft", func(in *Inputs) { in.VolBps = cfg.Volatility.Soft }, quote.LevelNone},
		{"vol at hard", func(in *Inputs) { in.VolBps = cfg.Volatility.Hard }, quote.LevelSoft},
		{"latency at hard", func(in *Inputs) { in.LatencyP95Ms = cfg.LatencyP95.Hard }, quote.LevelSoft},
		{"pnl z at soft", func(in *Inputs) { in.PnLZ = -cfg.PnLZ.Soft }, quote.LevelNone},
		{"pnl z at hard", func(in *Inputs) { in.PnLZ = -cfg.PnLZ.Hard }, quote.LevelSoft},
		{"inventory at hard", func(in *Inputs) { in.InventoryPct = -cfg.Inventory.Hard }, quote.LevelSoft},
		{"inventory just over hard", func(in *Inputs) { in.InventoryPct = cfg.Inventory.Hard + 0.1 }, quote.LevelHard},
		{"takers at soft", func(in *Inputs) { in.TakerFills = int(cfg.TakerFills.Soft) }, quote.LevelSoft},
		{"takers at hard", func(in *Inputs) { in.TakerFills = int(cfg.TakerFills.Hard) }, quote.LevelHard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := calmInputs()
			tt.mutate(&in)
			got, _ := EvaluateTriggers(cfg, in)
			assert.Equal(t, tt.want, got)
		})
	}
}

// 只有波动率越过软阈值：SOFT，缩量并加宽价差。
func TestGuards_VolatilitySpikeSoft(t *testing.T) {
	cfg := DefaultGuardConfig()
	g := NewGuards(cfg)
	in := calmInputs()
	in.VolBps = 4

	a := g.Assess(in, time.Unix(0, 0))
	assert.Equal(t, quote.LevelSoft, a.Level)
	assert.Equal(t, []quote.GuardReason{quote.ReasonVolatility}, a.Reasons)
	assert.Equal(t, cfg.SoftSizeFactor, a.SizeScale)
	assert.Equal(t, cfg.SoftSpreadBumpBps, a.SpreadBumpBps)
	assert.True(t, a.HaltUntil.IsZero())
}

// 延迟与库存同时越过硬阈值：HARD 并在 halt_until 前保持。
func TestGuards_CompoundHardBreachPinsHalt(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.HaltDuration = 10 * time.Second
	g := NewGuards(cfg)
	clk := &fakeClock{t: time.Unix(1000, 0)}

	in := calmInputs()
	in.LatencyP95Ms = 800
	in.InventoryPct = 95
	a := g.Assess(in, clk.Now())
	require.Equal(t, quote.LevelHard, a.Level)
	assert.True(t, a.HasReason(quote.ReasonLatency))
	assert.True(t, a.HasReason(quote.ReasonInventory))
	assert.Equal(t, clk.Now().Add(10*time.Second), a.HaltUntil)
	assert.Equal(t, 0.0, a.SizeScale)
	haltUntil := a.HaltUntil

	// 行情恢复，但停机期间仍为 HARD
	for i := 0; i < 9; i++ {
		clk.Advance(time.Second)
		a = g.Assess(calmInputs(), clk.Now())
		require.Equal(t, quote.LevelHard, a.Level, "tick %d", i)
		assert.Equal(t, []quote.GuardReason{quote.ReasonHaltCooldown}, a.Reasons)
		assert.Equal(t, haltUntil, a.HaltUntil)
	}

	// 到期后重新评估
	clk.Advance(time.Second)
	a = g.Assess(calmInputs(), clk.Now())
	assert.Equal(t, quote.LevelNone, a.Level)
	assert.True(t, g.HaltUntil().IsZero())
}

func TestGuards_RearmOnExpiry(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.HaltDuration = 5 * time.Second
	cfg.RearmDuration = 2 * time.Second
	g := NewGuards(cfg)
	now := time.Unix(0, 0)

	bad := calmInputs()
	bad.TakerFills = 20
	a := g.Assess(bad, now)
	require.Equal(t, quote.LevelHard, a.Level)

	now = now.Add(5 * time.Second)
	a = g.Assess(bad, now)
	require.Equal(t, quote.LevelHard, a.Level)
	assert.Equal(t, now.Add(2*time.Second), a.HaltUntil, "still breaching: halt extended by rearm duration")
	assert.False(t, a.HasReason(quote.ReasonHaltCooldown))

	// 到期时只剩软触发，降为 SOFT
	now = now.Add(2 * time.Second)
	soft := calmInputs()
	soft.TakerFills = 6
	a = g.Assess(soft, now)
	assert.Equal(t, quote.LevelSoft, a.Level)
}

func TestGuards_DisabledAlwaysNone(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.Enabled = false
	g := NewGuards(cfg)
	in := calmInputs()
	in.VolBps = 100
	in.InventoryPct = 100
	a := g.Assess(in, time.Unix(0, 0))
	assert.Equal(t, quote.LevelNone, a.Level)
	assert.Equal(t, 1.0, a.SizeScale)
}

func TestGuards_TransitionCallbackAndCounts(t *testing.T) {
	cfg := DefaultGuardConfig()
	cfg.HaltDuration = time.Second
	g := NewGuards(cfg)

	var transitions []quote.GuardLevel
	g.SetTransitionCallback(func(old, new quote.GuardAssessment) {
		transitions = append(transitions, new.Level)
	})

	now := time.Unix(0, 0)
	soft := calmInputs()
	soft.VolBps = 4
	hard := calmInputs()
	hard.VolBps = 10

	g.Assess(calmInputs(), now)
	g.Assess(soft, now.Add(100*time.Millisecond))
	g.Assess(soft, now.Add(200*time.Millisecond))
	g.Assess(hard, now.Add(300*time.Millisecond))
	g.Assess(calmInputs(), now.Add(400*time.Millisecond))
	g.Assess(calmInputs(), now.Add(2*time.Second))

	assert.Equal(t, []quote.GuardLevel{quote.LevelSoft, quote.LevelHard, quote.LevelNone}, transitions)
	counts := g.ReasonCounts()
	assert.Equal(t, 3, counts[quote.ReasonVolatility])
	assert.Equal(t, 1, counts[quote.ReasonHaltCooldown])
	assert.Equal(t, quote.LevelNone, g.Current().Level)
}

func TestTakerTracker(t *testing.T) {
	tr := NewTakerTracker(time.Minute)
	base := time.Unix(0, 0)
	tr.RecordFill(true, base)
	tr.RecordFill(false, base.Add(10*time.Second))
	tr.RecordFill(true, base.Add(20*time.Second))
	tr.RecordFill(false, base.Add(30*time.Second))

	assert.Equal(t, 2, tr.TakerCount(base.Add(30*time.Second)))
	assert.InDelta(t, 0.5, tr.TakerShare(base.Add(30*time.Second)), 1e-9)

	// 第一笔吃单滑出窗口
	now := base.Add(65 * time.Second)
	assert.Equal(t, 1, tr.TakerCount(now))
	assert.InDelta(t, 1.0/3.0, tr.TakerShare(now), 1e-9)
	assert.Equal(t, 0.0, NewTakerTracker(0).TakerShare(now))
}
