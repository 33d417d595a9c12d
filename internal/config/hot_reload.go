package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appcfg "quote-engine/config"
	"quote-engine/infrastructure/logger"
	"quote-engine/monitor"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免频繁更新
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: time.Second,
	}
}

// ReloadHandler 接收校验通过的新配置。
type ReloadHandler func(newConfig appcfg.AppConfig) error

// HotReloader 监听配置文件变化，重新加载、校验后交给处理函数。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	loader     func(path string) (appcfg.AppConfig, error)
	current    appcfg.AppConfig
	handler    ReloadHandler
	lastReload time.Time
	rec        monitor.Recorder
	log        *logger.Logger
	mu         sync.RWMutex
	stopOnce   sync.Once
	stopChan   chan struct{}
	doneChan   chan struct{}
	started    bool
}

// NewHotReloader 创建热更新器，current 为启动时已生效的配置。
func NewHotReloader(configPath string, current appcfg.AppConfig, cfg HotReloadConfig, rec monitor.Recorder, log *logger.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &HotReloader{
		config:     cfg,
		configPath: configPath,
		watcher:    watcher,
		loader:     appcfg.LoadWithEnvOverrides,
		current:    current,
		rec:        monitor.OrNop(rec),
		log:        logger.OrNop(log),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// SetReloadHandler 设置重载处理函数
func (h *HotReloader) SetReloadHandler(handler ReloadHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Start 启动热更新监听。监听所在目录，以覆盖编辑器 rename 写入的情况。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.mu.RLock()
	started := h.started
	h.mu.RUnlock()
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
		}
	}
	return h.watcher.Close()
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)
	target := filepath.Clean(h.configPath)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				if err := h.Reload(); err != nil {
					h.log.Warn("config reload rejected", zap.String("path", h.configPath), zap.Error(err))
				}
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

// ErrCooldown 冷却期内的重复触发。
var ErrCooldown = errors.New("reload within cooldown")

// Reload 重新加载配置文件；加载或校验失败时保留旧配置。
func (h *HotReloader) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime {
		return ErrCooldown
	}
	next, err := h.loader(h.configPath)
	if err != nil {
		h.rec.Inc(monitor.MetricConfigReloads, map[string]string{"outcome": "invalid"})
		return err
	}
	if err := CompatibleChange(h.current, next); err != nil {
		h.rec.Inc(monitor.MetricConfigReloads, map[string]string{"outcome": "incompatible"})
		return err
	}
	if h.handler != nil {
		if err := h.handler(next); err != nil {
			h.rec.Inc(monitor.MetricConfigReloads, map[string]string{"outcome": "handler_error"})
			return fmt.Errorf("apply config: %w", err)
		}
	}
	h.current = next
	h.lastReload = time.Now()
	h.rec.Inc(monitor.MetricConfigReloads, map[string]string{"outcome": "applied"})
	h.log.LogReload(map[string]interface{}{
		"path":    h.configPath,
		"symbols": next.SymbolNames(),
	})
	return nil
}

// Current 当前生效的配置
func (h *HotReloader) Current() appcfg.AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// CompatibleChange 运行中只允许调整参数，交易对集合与交易通道变更需要重启。
func CompatibleChange(old, next appcfg.AppConfig) error {
	if old.Venue.Mode != next.Venue.Mode {
		return fmt.Errorf("venue.mode change %s -> %s requires restart", old.Venue.Mode, next.Venue.Mode)
	}
	if old.Metrics.Addr != next.Metrics.Addr {
		return fmt.Errorf("metrics.addr change requires restart")
	}
	a, b := old.SymbolNames(), next.SymbolNames()
	if len(a) != len(b) {
		return fmt.Errorf("symbol set change %v -> %v requires restart", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("symbol set change %v -> %v requires restart", a, b)
		}
	}
	return nil
}
