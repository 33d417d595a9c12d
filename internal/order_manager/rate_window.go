package order_manager

import (
	"time"

	"quote-engine/internal/stats"
)

// RateWindow 按操作类型的滑动窗口限频，只记录被接受的操作。
// 非并发安全，由 Manager 的锁保护。
type RateWindow struct {
	limit  int
	window *stats.TimeWindow
}

// NewRateWindow limit<=0 表示不限频。
func NewRateWindow(limit int, span time.Duration) *RateWindow {
	if span <= 0 {
		span = time.Second
	}
	return &RateWindow{limit: limit, window: stats.NewTimeWindow(span)}
}

// Allow 判断 now 时刻是否还能再执行一次。
func (r *RateWindow) Allow(now time.Time) bool {
	if r.limit <= 0 {
		return true
	}
	return r.window.Count(now) < r.limit
}

// Record 记录一次已执行的操作。
func (r *RateWindow) Record(now time.Time) {
	r.window.Add(now)
}

// Count 窗口内的操作数。
func (r *RateWindow) Count(now time.Time) int {
	return r.window.Count(now)
}

// SetLimit 热更新上限，保留历史。
func (r *RateWindow) SetLimit(limit int) { r.limit = limit }
