package risk

import (
	"sync"
	"time"

	"quote-engine/internal/stats"
)

// TakerTracker 滑动窗口内统计吃单成交次数及占比。
type TakerTracker struct {
	mu     sync.Mutex
	all    *stats.TimeWindow
	takers *stats.TimeWindow
}

// NewTakerTracker 创建吃单统计，window<=0 时默认 1 分钟。
func NewTakerTracker(window time.Duration) *TakerTracker {
	return &TakerTracker{
		all:    stats.NewTimeWindow(window),
		takers: stats.NewTimeWindow(window),
	}
}

// RecordFill 记录一笔成交。
func (t *TakerTracker) RecordFill(taker bool, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.all.Add(ts)
	if taker {
		t.takers.Add(ts)
	}
}

// TakerCount 窗口内吃单次数。
func (t *TakerTracker) TakerCount(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.takers.Count(now)
}

// TakerShare 窗口内吃单占比（0..1），无成交时为 0。
func (t *TakerTracker) TakerShare(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.all.Count(now)
	if total == 0 {
		return 0
	}
	return float64(t.takers.Count(now)) / float64(total)
}
