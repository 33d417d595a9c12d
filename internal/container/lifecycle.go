package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"quote-engine/infrastructure/logger"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 按注册顺序启动、逆序停止组件。
type LifecycleManager struct {
	components []Lifecycle
	log        *logger.Logger
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager(log *logger.Logger) *LifecycleManager {
	return &LifecycleManager{log: logger.OrNop(log)}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件，失败时回滚已启动的组件。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, c := range m.components {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.components[j].Stop(); stopErr != nil {
					m.log.Warn("rollback stop failed", zap.String("component", m.components[j].Name()), zap.Error(stopErr))
				}
			}
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		m.log.Info("component started", zap.String("component", c.Name()))
	}
	return nil
}

// StopAll 逆序停止所有组件，返回合并后的错误。
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for i := len(m.components) - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
			continue
		}
		m.log.Info("component stopped", zap.String("component", c.Name()))
	}
	return errors.Join(errs...)
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.components {
		if err := c.Health(); err != nil {
			return fmt.Errorf("component %s unhealthy: %w", c.Name(), err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  *http.Server
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	srv := &http.Server{
		Addr:              h.addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.server = srv

	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", h.addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()
	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started || h.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// loopComponent 在后台 goroutine 中运行一个阻塞函数，Stop 时取消并等待其返回。
type loopComponent struct {
	name   string
	run    func(ctx context.Context) error
	logger *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (l *loopComponent) Name() string { return l.name }

func (l *loopComponent) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.err = nil
	go func() {
		defer close(l.done)
		err := l.run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("background loop exited", zap.String("component", l.name), zap.Error(err))
			l.mu.Lock()
			l.err = err
			l.mu.Unlock()
		}
	}()
	return nil
}

func (l *loopComponent) Stop() error {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (l *loopComponent) Health() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.cancel == nil {
		return fmt.Errorf("%s not running", l.name)
	}
	return nil
}

// funcComponent 用函数适配已有 Start/Stop 的组件。
type funcComponent struct {
	name   string
	start  func(ctx context.Context) error
	stop   func() error
	health func() error
}

func (f funcComponent) Name() string { return f.name }

func (f funcComponent) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f funcComponent) Stop() error {
	if f.stop == nil {
		return nil
	}
	return f.stop()
}

func (f funcComponent) Health() error {
	if f.health == nil {
		return nil
	}
	return f.health()
}
