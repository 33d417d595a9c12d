package monitor

// 指标名称，后端（Prometheus/内存）按名称登记。
const (
	MetricGuardTransitions   = "guard_transitions_total"
	MetricGuardLevel         = "guard_level"
	MetricGuardReasons       = "guard_reasons_total"
	MetricSpreadBps          = "spread_bps"
	MetricSpreadFactor       = "spread_factor_bps"
	MetricRateLimitRejects   = "rate_limit_rejects_total"
	MetricBudgetRejects      = "budget_rejects_total"
	MetricReplaceOutcomes    = "replace_outcomes_total"
	MetricQueuePosDelta      = "queue_pos_delta"
	MetricOrdersPlaced       = "orders_placed_total"
	MetricOrdersCanceled     = "orders_canceled_total"
	MetricVenueErrors        = "venue_errors_total"
	MetricValidationErrors   = "validation_errors_total"
	MetricStageLatency       = "stage_latency_seconds"
	MetricTickLatency        = "tick_latency_seconds"
	MetricStaleRefreshes     = "stale_refreshes_total"
	MetricWsReconnects       = "ws_reconnects_total"
	MetricConfigReloads      = "config_reloads_total"
	MetricHaltSuppressedTick = "halt_suppressed_ticks_total"
	MetricUserStreamEvents   = "user_stream_events_total"
	MetricUserStreamUp       = "user_stream_connected"
	MetricUserStreamRetries  = "user_stream_reconnects_total"
)

// Recorder 抽象指标出口，核心组件只依赖该接口。
type Recorder interface {
	Inc(name string, labels map[string]string)
	Add(name string, v float64, labels map[string]string)
	Observe(name string, v float64, labels map[string]string)
	Set(name string, v float64, labels map[string]string)
}

// Nop 丢弃所有指标。
type Nop struct{}

func (Nop) Inc(string, map[string]string)              {}
func (Nop) Add(string, float64, map[string]string)     {}
func (Nop) Observe(string, float64, map[string]string) {}
func (Nop) Set(string, float64, map[string]string)     {}

// OrNop 为 nil 时返回 Nop。
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}
