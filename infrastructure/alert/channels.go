package alert

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"quote-engine/infrastructure/logger"
)

// LogChannel 写入结构化日志的告警通道
type LogChannel struct {
	name string
	log  *logger.Logger
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	return &LogChannel{name: name, log: logger.OrNop(log)}
}

// Send CRITICAL 记为 error，WARNING 记为 warn，其余 info。
func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("severity", string(a.Severity)),
		zap.String("symbol", a.Symbol),
		zap.Time("ts", a.Timestamp),
		zap.Any("fields", a.Fields),
	}
	switch a.Severity {
	case SeverityCritical:
		c.log.Error("alert: "+a.Message, fields...)
	case SeverityWarning:
		c.log.Warn("alert: "+a.Message, fields...)
	default:
		c.log.Info("alert: "+a.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// MockChannel 记录收到的告警，用于测试
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Count 接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
