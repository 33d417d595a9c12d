package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Memory 是并发安全的内存指标出口，实现 monitor.Recorder，适合单测与 dry-run。
type Memory struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMemory 创建内存指标出口。
func NewMemory() *Memory {
	return &Memory{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *Memory) Inc(name string, labels map[string]string) {
	m.Add(name, 1, labels)
}

func (m *Memory) Add(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	m.counters[Key(name, labels)] += v
	m.mu.Unlock()
}

func (m *Memory) Observe(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	k := Key(name, labels)
	m.histograms[k] = append(m.histograms[k], v)
	m.mu.Unlock()
}

func (m *Memory) Set(name string, v float64, labels map[string]string) {
	m.mu.Lock()
	m.gauges[Key(name, labels)] = v
	m.mu.Unlock()
}

// Counter 返回计数器值（按完整标签匹配）。
func (m *Memory) Counter(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[Key(name, labels)]
}

// CounterTotal 汇总某指标所有标签组合。
func (m *Memory) CounterTotal(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for k, v := range m.counters {
		if k == name || strings.HasPrefix(k, name+"{") {
			total += v
		}
	}
	return total
}

// Gauge 返回最后一次 Set 的值。
func (m *Memory) Gauge(name string, labels map[string]string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.gauges[Key(name, labels)]
	return v, ok
}

// Observations 返回全部 observe 值的副本。
func (m *Memory) Observations(name string, labels map[string]string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.histograms[Key(name, labels)]...)
}

// Key 生成 name{k=v,...}，标签按键排序。
func Key(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}
