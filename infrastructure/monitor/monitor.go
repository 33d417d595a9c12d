package monitor

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quote-engine/monitor"
)

// Monitor Prometheus监控指标收集器，实现 monitor.Recorder。
// 指标按名称在首次使用时注册，标签名以首次调用为准。
type Monitor struct {
	cfg      Config
	registry *prometheus.Registry
	factory  promauto.Factory

	counters   map[string]*vecEntry[*prometheus.CounterVec]
	gauges     map[string]*vecEntry[*prometheus.GaugeVec]
	histograms map[string]*vecEntry[*prometheus.HistogramVec]
	kinds      map[string]string

	// 仓位/行情指标
	position      *prometheus.GaugeVec
	unrealizedPnL *prometheus.GaugeVec
	realizedPnL   *prometheus.GaugeVec
	midPrice      *prometheus.GaugeVec
	quoteSpread   *prometheus.GaugeVec

	mu sync.RWMutex
}

type vecEntry[V any] struct {
	vec    V
	labels []string
}

// Config 监控配置
type Config struct {
	Namespace      string
	Subsystem      string
	LatencyBuckets []float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace:      "qe",
		Subsystem:      "engine",
		LatencyBuckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.Namespace == "" {
		cfg.Namespace = def.Namespace
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = def.LatencyBuckets
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, []string{"symbol"})
	}

	return &Monitor{
		cfg:        cfg,
		registry:   reg,
		factory:    factory,
		counters:   make(map[string]*vecEntry[*prometheus.CounterVec]),
		gauges:     make(map[string]*vecEntry[*prometheus.GaugeVec]),
		histograms: make(map[string]*vecEntry[*prometheus.HistogramVec]),
		kinds:      make(map[string]string),

		position:      gauge("position", "当前净仓位"),
		unrealizedPnL: gauge("unrealized_pnl", "未实现盈亏"),
		realizedPnL:   gauge("realized_pnl", "已实现盈亏"),
		midPrice:      gauge("mid_price", "当前中间价"),
		quoteSpread:   gauge("quote_spread_bps", "最终报价价差（bps）"),
	}
}

var _ monitor.Recorder = (*Monitor)(nil)

// Inc 计数器加一
func (m *Monitor) Inc(name string, labels map[string]string) {
	m.Add(name, 1, labels)
}

// Add 计数器累加，负数忽略
func (m *Monitor) Add(name string, v float64, labels map[string]string) {
	if v < 0 {
		return
	}
	e := m.counterVec(name, labels)
	if e == nil {
		return
	}
	e.vec.WithLabelValues(labelValues(e.labels, labels)...).Add(v)
}

// Observe 直方图采样
func (m *Monitor) Observe(name string, v float64, labels map[string]string) {
	e := m.histogramVec(name, labels)
	if e == nil {
		return
	}
	e.vec.WithLabelValues(labelValues(e.labels, labels)...).Observe(v)
}

// Set 设置仪表值
func (m *Monitor) Set(name string, v float64, labels map[string]string) {
	e := m.gaugeVec(name, labels)
	if e == nil {
		return
	}
	e.vec.WithLabelValues(labelValues(e.labels, labels)...).Set(v)
}

// UpdatePosition 仓位与盈亏
func (m *Monitor) UpdatePosition(symbol string, net, realized, unrealized float64) {
	m.position.WithLabelValues(symbol).Set(net)
	m.realizedPnL.WithLabelValues(symbol).Set(realized)
	m.unrealizedPnL.WithLabelValues(symbol).Set(unrealized)
}

// UpdateQuote 行情中间价与最终报价价差
func (m *Monitor) UpdateQuote(symbol string, mid, spreadBps float64) {
	m.midPrice.WithLabelValues(symbol).Set(mid)
	m.quoteSpread.WithLabelValues(symbol).Set(spreadBps)
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// claim 同一名称只能对应一种指标类型，冲突时丢弃。
func (m *Monitor) claim(name, kind string) bool {
	if k, ok := m.kinds[name]; ok {
		return k == kind
	}
	m.kinds[name] = kind
	return true
}

func (m *Monitor) counterVec(name string, labels map[string]string) *vecEntry[*prometheus.CounterVec] {
	m.mu.RLock()
	e, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.counters[name]; ok {
		return e
	}
	if !m.claim(name, "counter") {
		return nil
	}
	keys := labelKeys(labels)
	e = &vecEntry[*prometheus.CounterVec]{
		labels: keys,
		vec: m.factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.cfg.Namespace,
			Subsystem: m.cfg.Subsystem,
			Name:      name,
			Help:      help(name),
		}, keys),
	}
	m.counters[name] = e
	return e
}

func (m *Monitor) gaugeVec(name string, labels map[string]string) *vecEntry[*prometheus.GaugeVec] {
	m.mu.RLock()
	e, ok := m.gauges[name]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.gauges[name]; ok {
		return e
	}
	if !m.claim(name, "gauge") {
		return nil
	}
	keys := labelKeys(labels)
	e = &vecEntry[*prometheus.GaugeVec]{
		labels: keys,
		vec: m.factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.cfg.Namespace,
			Subsystem: m.cfg.Subsystem,
			Name:      name,
			Help:      help(name),
		}, keys),
	}
	m.gauges[name] = e
	return e
}

func (m *Monitor) histogramVec(name string, labels map[string]string) *vecEntry[*prometheus.HistogramVec] {
	m.mu.RLock()
	e, ok := m.histograms[name]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.histograms[name]; ok {
		return e
	}
	if !m.claim(name, "histogram") {
		return nil
	}
	buckets := prometheus.DefBuckets
	if strings.HasSuffix(name, "_seconds") {
		buckets = m.cfg.LatencyBuckets
	}
	keys := labelKeys(labels)
	e = &vecEntry[*prometheus.HistogramVec]{
		labels: keys,
		vec: m.factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.cfg.Namespace,
			Subsystem: m.cfg.Subsystem,
			Name:      name,
			Help:      help(name),
			Buckets:   buckets,
		}, keys),
	}
	m.histograms[name] = e
	return e
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// labelValues 按注册时的标签名取值，缺失为空串，多余的标签忽略。
func labelValues(keys []string, labels map[string]string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = labels[k]
	}
	return out
}

var helps = map[string]string{
	monitor.MetricGuardTransitions:   "风控等级切换次数",
	monitor.MetricGuardLevel:         "当前风控等级(0=NONE,1=SOFT,2=HARD)",
	monitor.MetricGuardReasons:       "风控触发原因计数",
	monitor.MetricSpreadBps:          "自适应价差（bps）",
	monitor.MetricSpreadFactor:       "各因子价差贡献（bps）",
	monitor.MetricRateLimitRejects:   "限速拒绝次数",
	monitor.MetricBudgetRejects:      "单边挂单预算拒绝次数",
	monitor.MetricReplaceOutcomes:    "改单结果计数",
	monitor.MetricQueuePosDelta:      "排队位置前移量",
	monitor.MetricOrdersPlaced:       "下单总数",
	monitor.MetricOrdersCanceled:     "撤单总数",
	monitor.MetricVenueErrors:        "交易所请求错误",
	monitor.MetricValidationErrors:   "行情快照校验失败",
	monitor.MetricStageLatency:       "pipeline stage 耗时（秒）",
	monitor.MetricTickLatency:        "单 tick 总耗时（秒）",
	monitor.MetricStaleRefreshes:     "过期订单刷新次数",
	monitor.MetricWsReconnects:       "WebSocket重连次数",
	monitor.MetricConfigReloads:      "配置热加载次数",
	monitor.MetricHaltSuppressedTick: "停机期间被抑制的 tick",
	monitor.MetricUserStreamEvents:   "用户数据流回报数",
	monitor.MetricUserStreamUp:       "用户数据流连接状态",
	monitor.MetricUserStreamRetries:  "用户数据流重连次数",
}

func help(name string) string {
	if h, ok := helps[name]; ok {
		return h
	}
	return name
}
