package alert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quote-engine/quote"
)

// Severity 告警级别
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Severity  Severity
	Symbol    string
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// key 限流键：同一交易对、同一级别、同一消息视为重复。
func (a Alert) key() string {
	return fmt.Sprintf("%s:%s:%s", a.Symbol, a.Severity, a.Message)
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 按键限流
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 距上次发送超过 interval 才放行
func (t *Throttler) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.lastSent[key]
	if ok && now.Sub(last) < t.interval {
		return false
	}
	t.lastSent[key] = now
	return true
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器：限流后广播到所有通道。
type Manager struct {
	channels []Channel
	throttle *Throttler
	now      func() time.Time
	mu       sync.RWMutex
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		now:      time.Now,
	}
}

// SendAlert 发送告警。被限流时静默返回 nil；全部通道失败才返回错误。
func (m *Manager) SendAlert(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.now()
	}
	if !m.throttle.Allow(a.key(), a.Timestamp) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 && len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 移除告警通道
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// GetChannels 获取所有通道名
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}

// OnGuardTransition 把风控等级变化转换为告警：HARD 为 CRITICAL，SOFT 为 WARNING，
// 回到 NONE 为 INFO。仅停机截止时间变化（同级别）不告警。
func (m *Manager) OnGuardTransition(symbol string, old, next quote.GuardAssessment) {
	if old.Level == next.Level {
		return
	}
	a := Alert{
		Symbol:    symbol,
		Timestamp: next.EvaluatedAt,
		Fields: map[string]interface{}{
			"from":    old.Level.String(),
			"to":      next.Level.String(),
			"reasons": reasonList(next.Reasons),
		},
	}
	switch next.Level {
	case quote.LevelHard:
		a.Severity = SeverityCritical
		a.Message = "quoting halted"
		a.Fields["halt_until"] = next.HaltUntil.Format(time.RFC3339)
	case quote.LevelSoft:
		a.Severity = SeverityWarning
		a.Message = "quoting degraded"
	default:
		a.Severity = SeverityInfo
		a.Message = "quoting recovered"
	}
	_ = m.SendAlert(a)
}

func reasonList(reasons []quote.GuardReason) string {
	out := make([]string, 0, len(reasons))
	for _, r := range reasons {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
