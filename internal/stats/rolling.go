package stats

import (
	"container/ring"
	"math"
	"sort"
	"time"
)

// EMA 指数移动平均，首个样本直接作为初值。
type EMA struct {
	alpha  float64
	value  float64
	primed bool
}

// NewEMA 使用平滑系数 alpha 创建 EMA，非法值回退为 0.1。
func NewEMA(alpha float64) *EMA {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	return &EMA{alpha: alpha}
}

// NewEMAForWindow 按窗口长度换算 alpha = 2/(n+1)。
func NewEMAForWindow(n float64) *EMA {
	if n < 1 {
		n = 1
	}
	return NewEMA(2 / (n + 1))
}

func (e *EMA) Update(v float64) float64 {
	if !e.primed {
		e.value = v
		e.primed = true
		return e.value
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
	return e.value
}

func (e *EMA) Value() float64 { return e.value }

func (e *EMA) Primed() bool { return e.primed }

// Window 固定容量的环形样本窗口。
type Window struct {
	samples *ring.Ring
	size    int
	count   int
}

// NewWindow 创建容量为 size 的窗口。
func NewWindow(size int) *Window {
	if size <= 0 {
		size = 100
	}
	return &Window{samples: ring.New(size), size: size}
}

// Push 写入样本，满后覆盖最旧样本。
func (w *Window) Push(v float64) {
	w.samples.Value = v
	w.samples = w.samples.Next()
	if w.count < w.size {
		w.count++
	}
}

func (w *Window) Len() int { return w.count }

// Values 返回从旧到新的样本拷贝。
func (w *Window) Values() []float64 {
	out := make([]float64, 0, w.count)
	// 当前指针指向下一个写入位置，未满时前面是空槽
	w.samples.Do(func(x interface{}) {
		if v, ok := x.(float64); ok {
			out = append(out, v)
		}
	})
	return out
}

// Mean 平均值，无样本时返回 0。
func (w *Window) Mean() float64 {
	vals := w.Values()
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// StdDev 总体标准差。
func (w *Window) StdDev() float64 {
	vals := w.Values()
	if len(vals) < 2 {
		return 0
	}
	mean := w.Mean()
	var acc float64
	for _, v := range vals {
		d := v - mean
		acc += d * d
	}
	return math.Sqrt(acc / float64(len(vals)))
}

// Percentile 最近邻秩百分位，p 取值 [0,100]。
func (w *Window) Percentile(p float64) float64 {
	return Percentile(w.Values(), p)
}

// ZScore 最新样本相对窗口均值的标准分；方差为 0 时返回 0。
func (w *Window) ZScore() float64 {
	if w.count == 0 {
		return 0
	}
	sd := w.StdDev()
	if sd == 0 {
		return 0
	}
	last, _ := w.samples.Prev().Value.(float64)
	return (last - w.Mean()) / sd
}

// Reset 清空窗口。
func (w *Window) Reset() {
	w.samples = ring.New(w.size)
	w.count = 0
}

// Percentile 计算 values 的百分位，不修改入参。
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// TimeWindow 按时间滑动的事件计数窗口。
type TimeWindow struct {
	span   time.Duration
	events []time.Time
}

func NewTimeWindow(span time.Duration) *TimeWindow {
	if span <= 0 {
		span = time.Minute
	}
	return &TimeWindow{span: span}
}

// Add 记录事件。
func (t *TimeWindow) Add(ts time.Time) {
	t.events = append(t.events, ts)
}

// Count 返回 (now-span, now] 内的事件数，并清理过期事件。
func (t *TimeWindow) Count(now time.Time) int {
	t.evict(now)
	return len(t.events)
}

// Oldest 窗口内最早事件。
func (t *TimeWindow) Oldest(now time.Time) (time.Time, bool) {
	t.evict(now)
	if len(t.events) == 0 {
		return time.Time{}, false
	}
	return t.events[0], true
}

func (t *TimeWindow) Span() time.Duration { return t.span }

func (t *TimeWindow) evict(now time.Time) {
	cutoff := now.Add(-t.span)
	i := 0
	for i < len(t.events) && !t.events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
