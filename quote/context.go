package quote

import (
	"time"

	"quote-engine/market"
)

// Context 在各 stage 之间传递的不可变报价上下文。
// 每个 stage 通过 With* 返回新值，不在原值上修改。
type Context struct {
	Symbol   string
	TraceID  string
	Snapshot market.Snapshot
	Started  time.Time

	spread    *SpreadDecision
	guard     *GuardAssessment
	inventory *InventoryAdjustment
	queue     *QueueAdjustment
	quote     *Quote

	timings  map[string]time.Duration
	metadata map[string]string
}

// NewContext 在 tick 开始时创建上下文。
func NewContext(symbol, traceID string, snap market.Snapshot, started time.Time) Context {
	return Context{
		Symbol:   symbol,
		TraceID:  traceID,
		Snapshot: snap,
		Started:  started,
	}
}

func (c Context) WithSpread(d SpreadDecision) Context {
	c.spread = &d
	return c
}

func (c Context) WithGuard(g GuardAssessment) Context {
	g.Reasons = append([]GuardReason(nil), g.Reasons...)
	c.guard = &g
	return c
}

func (c Context) WithInventory(a InventoryAdjustment) Context {
	c.inventory = &a
	return c
}

func (c Context) WithQueue(a QueueAdjustment) Context {
	c.queue = &a
	return c
}

func (c Context) WithQuote(q Quote) Context {
	c.quote = &q
	return c
}

// WithTiming 记录 stage 耗时。
func (c Context) WithTiming(stage string, d time.Duration) Context {
	m := make(map[string]time.Duration, len(c.timings)+1)
	for k, v := range c.timings {
		m[k] = v
	}
	m[stage] = d
	c.timings = m
	return c
}

// WithMetadata 附加 stage 元数据。
func (c Context) WithMetadata(key, value string) Context {
	m := make(map[string]string, len(c.metadata)+1)
	for k, v := range c.metadata {
		m[k] = v
	}
	m[key] = value
	c.metadata = m
	return c
}

func (c Context) Spread() (SpreadDecision, bool) {
	if c.spread == nil {
		return SpreadDecision{}, false
	}
	return *c.spread, true
}

func (c Context) Guard() (GuardAssessment, bool) {
	if c.guard == nil {
		return GuardAssessment{}, false
	}
	g := *c.guard
	g.Reasons = append([]GuardReason(nil), g.Reasons...)
	return g, true
}

func (c Context) Inventory() (InventoryAdjustment, bool) {
	if c.inventory == nil {
		return InventoryAdjustment{}, false
	}
	return *c.inventory, true
}

func (c Context) Queue() (QueueAdjustment, bool) {
	if c.queue == nil {
		return QueueAdjustment{}, false
	}
	return *c.queue, true
}

func (c Context) Quote() (Quote, bool) {
	if c.quote == nil {
		return Quote{}, false
	}
	return *c.quote, true
}

// Level 当前风控等级，未评估时为 NONE。
func (c Context) Level() GuardLevel {
	if c.guard == nil {
		return LevelNone
	}
	return c.guard.Level
}

// Halted 是否处于 HARD 停机。
func (c Context) Halted() bool {
	return c.Level() == LevelHard
}

// Timing 返回 stage 耗时。
func (c Context) Timing(stage string) (time.Duration, bool) {
	d, ok := c.timings[stage]
	return d, ok
}

// Metadata 返回 stage 元数据。
func (c Context) Metadata(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}
