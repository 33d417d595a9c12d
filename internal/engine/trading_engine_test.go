package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-engine/gateway"
	"quote-engine/order"
)

func newTestRunner(t *testing.T) (*Runner, *Pipeline, *recordingVenue) {
	t.Helper()
	venue := &recordingVenue{PaperVenue: gateway.NewPaperVenue(1024)}
	p := New(DefaultConfig(), venue, nil, nil)
	_, err := p.AddSymbol(testSymbolConfig())
	require.NoError(t, err)
	r, err := NewRunner(RunnerConfig{StaleCheckInterval: 20 * time.Millisecond}, p, venue.Events(), nil)
	require.NoError(t, err)
	return r, p, venue
}

func TestRunnerRequiresPipeline(t *testing.T) {
	_, err := NewRunner(DefaultRunnerConfig(), nil, nil, nil)
	assert.Error(t, err)
}

func TestRunnerLifecycle(t *testing.T) {
	r, p, venue := newTestRunner(t)
	assert.Equal(t, StateIdle, r.GetState())
	assert.Error(t, r.Stop())

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))
	assert.Equal(t, StateRunning, r.GetState())

	r.OnSnapshot(snapAt("BTCUSDT", 100, time.Now()))
	sp, _ := p.Symbol("BTCUSDT")
	require.Eventually(t, func() bool {
		orders := sp.Orders().Orders()
		if len(orders) != 2 {
			return false
		}
		for _, o := range orders {
			if o.Status != order.StatusOpen {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "acks should move orders to OPEN")

	stats := r.GetStatistics()
	assert.GreaterOrEqual(t, stats.TotalTicks, int64(1))
	assert.GreaterOrEqual(t, stats.TotalEvents, int64(2))

	require.NoError(t, r.Pause())
	assert.Equal(t, StatePaused, r.GetState())
	assert.Error(t, r.Pause())
	require.NoError(t, r.Resume())

	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.GetState())
	assert.Empty(t, sp.Orders().Orders())
	cancels := venue.Cancels()
	require.NotEmpty(t, cancels)
	for _, c := range cancels {
		assert.True(t, c.Force)
	}
	assert.Equal(t, 0, venue.Statistics()["open_orders"])
}

func TestRunnerPausedSkipsSnapshots(t *testing.T) {
	r, p, venue := newTestRunner(t)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	require.NoError(t, r.Pause())

	r.OnSnapshot(snapAt("BTCUSDT", 100, time.Now()))
	time.Sleep(50 * time.Millisecond)
	sp, _ := p.Symbol("BTCUSDT")
	assert.Empty(t, sp.Orders().Orders())
	assert.Equal(t, 0, venue.Statistics()["place_order_count"])
	assert.Equal(t, int64(0), r.GetStatistics().TotalTicks)
}

func TestRunnerCountsInvalidSnapshots(t *testing.T) {
	r, _, _ := newTestRunner(t)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	bad := snapAt("BTCUSDT", 100, time.Now())
	bad.BestBid = 0
	r.OnSnapshot(bad)
	require.Eventually(t, func() bool {
		return r.GetStatistics().TotalErrors == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "RUNNING", StateRunning.String())
	assert.Equal(t, "UNKNOWN", EngineState(42).String())
}
