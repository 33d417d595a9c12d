package container

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quote-engine/config"
	"quote-engine/gateway"
	"quote-engine/infrastructure/alert"
	"quote-engine/infrastructure/logger"
	"quote-engine/infrastructure/monitor"
	hotreload "quote-engine/internal/config"
	"quote-engine/internal/engine"
	"quote-engine/inventory"
	"quote-engine/market"
)

// Options 命令行层面的覆盖项。
type Options struct {
	ConfigPath  string
	DryRun      bool   // 强制使用 paper 交易通道
	MetricsAddr string // 非空时覆盖配置
	ReportEvery time.Duration
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	opts Options
	cfg  config.AppConfig

	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	venue    gateway.Venue
	paper    *gateway.PaperVenue
	rest     *gateway.BinanceRESTClient
	events   <-chan gateway.Event
	ws       *gateway.BinanceWSReal
	user     *gateway.BinanceUserStream
	pipeline *engine.Pipeline
	runner   *engine.Runner
	reloader *hotreload.HotReloader

	lifecycle *LifecycleManager
}

// New 加载配置并创建 Container
func New(opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.DryRun {
		cfg.Venue.Mode = config.VenuePaper
	}
	if opts.ReportEvery <= 0 {
		opts.ReportEvery = time.Second
	}
	return &Container{opts: opts, cfg: cfg}, nil
}

// Config 生效中的配置
func (c *Container) Config() config.AppConfig { return c.cfg }

// Pipeline 报价流水线
func (c *Container) Pipeline() *engine.Pipeline { return c.pipeline }

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}
	if err := c.buildReloader(); err != nil {
		return fmt.Errorf("build hot reloader failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built",
		zap.String("env", c.cfg.Env),
		zap.String("venue", c.cfg.Venue.Mode),
		zap.Strings("symbols", c.cfg.SymbolNames()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	monitorCfg := monitor.DefaultConfig()
	if c.cfg.Metrics.Namespace != "" {
		monitorCfg.Namespace = c.cfg.Metrics.Namespace
	}
	c.monitor = monitor.New(monitorCfg)
	c.alerts = alert.NewManager([]alert.Channel{alert.NewLogChannel("log", c.logger)}, time.Minute)
	c.lifecycle = NewLifecycleManager(c.logger)
	return nil
}

func (c *Container) buildGateway() error {
	bc := gateway.BinanceConfig{
		RestURL:        c.cfg.Venue.RestURL,
		WSEndpoint:     c.cfg.Feed.WSEndpoint,
		APIKey:         c.cfg.Venue.APIKey,
		APISecret:      c.cfg.Venue.APISecret,
		RequestsPerSec: c.cfg.Venue.RequestsPerSec,
		Burst:          c.cfg.Venue.Burst,
		MaxRetries:     c.cfg.Venue.MaxRetries,
		RecvWindow:     time.Duration(c.cfg.Venue.RecvWindowMs) * time.Millisecond,
	}
	c.rest, c.ws = gateway.BuildRealBinanceClients(bc, nil)
	c.ws.ReadTimeout = time.Duration(c.cfg.Feed.ReadTimeoutMs) * time.Millisecond
	c.ws.MaxBackoff = time.Duration(c.cfg.Feed.MaxBackoffMs) * time.Millisecond
	c.ws.Recorder = c.monitor
	c.ws.Logger = c.logger
	for _, sym := range c.cfg.SymbolNames() {
		if err := c.ws.SubscribeDepth(sym); err != nil {
			return err
		}
		if err := c.ws.SubscribeTrades(sym); err != nil {
			return err
		}
	}

	switch c.cfg.Venue.Mode {
	case config.VenueBinance:
		acking := gateway.NewAckingVenue(c.rest, 0)
		c.venue, c.events = acking, acking.Events()
		c.user = gateway.NewBinanceUserStream(c.rest, acking)
		c.user.BaseEndpoint = c.ws.BaseEndpoint
		c.user.MaxBackoff = c.ws.MaxBackoff
		c.user.Recorder = c.monitor
		c.user.Logger = c.logger
		c.user.OnAccount = c.onAccountUpdate
	default:
		c.paper = gateway.NewPaperVenue(0)
		c.paper.SetLatency(time.Duration(c.cfg.Venue.PaperLatencyMs) * time.Millisecond)
		c.venue, c.events = c.paper, c.paper.Events()
	}
	return nil
}

func (c *Container) buildEngine() error {
	st := c.cfg.Engine.Stages
	c.pipeline = engine.New(engine.Config{
		Stages: engine.StagesConfig{
			Guards: st.Guards, Spread: st.Spread, Inventory: st.Inventory, Queue: st.Queue, Emit: st.Emit,
		},
	}, c.venue, c.monitor, c.logger)
	c.pipeline.SetTransitionHook(c.alerts.OnGuardTransition)
	for _, sym := range c.cfg.SymbolNames() {
		if _, err := c.pipeline.AddSymbol(SymbolConfig(sym, c.cfg.Symbols[sym])); err != nil {
			return err
		}
	}

	rc := engine.DefaultRunnerConfig()
	rc.StaleCheckInterval = time.Duration(c.cfg.Engine.StaleCheckMs) * time.Millisecond
	var err error
	c.runner, err = engine.NewRunner(rc, c.pipeline, c.events, c.logger)
	return err
}

func (c *Container) buildReloader() error {
	hc := hotreload.HotReloadConfig{
		Enabled:      c.cfg.Engine.HotReload,
		CooldownTime: time.Duration(c.cfg.Engine.ReloadCooldownMs) * time.Millisecond,
	}
	var err error
	c.reloader, err = hotreload.NewHotReloader(c.opts.ConfigPath, c.cfg, hc, c.monitor, c.logger)
	if err != nil {
		return err
	}
	c.reloader.SetReloadHandler(c.applyReload)
	return nil
}

// applyReload 把新配置下发到各交易对；交易对集合不变由 CompatibleChange 保证。
func (c *Container) applyReload(next config.AppConfig) error {
	for _, sym := range next.SymbolNames() {
		if err := c.pipeline.UpdateSymbolConfig(SymbolConfig(sym, next.Symbols[sym])); err != nil {
			return fmt.Errorf("apply %s: %w", sym, err)
		}
	}
	return nil
}

// feedHandler 行情先送到 paper 撮合（如有），再进入事件循环。
func (c *Container) feedHandler() gateway.FeedHandler {
	if c.paper == nil {
		return c.runner
	}
	return gateway.FeedFuncs{
		Snapshot: func(s market.Snapshot) {
			c.paper.OnSnapshot(s)
			c.runner.OnSnapshot(s)
		},
		Trade: func(tr gateway.Trade) {
			c.paper.OnTrade(tr)
			c.runner.OnTrade(tr)
		},
	}
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", c.monitor.Handler())
		mux.HandleFunc("/health", c.serveHealth)
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: mux,
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
		})
	}
	// 用户流先于 runner 注册，停止时晚于 runner，收尾撤单的回报仍能送达
	if c.user != nil {
		c.lifecycle.Register(&loopComponent{
			name:   "user_stream",
			logger: c.logger,
			run:    c.user.Run,
		})
	}
	c.lifecycle.Register(funcComponent{
		name:  "runner",
		start: c.runner.Start,
		stop:  c.stopRunner,
		health: func() error {
			if st := c.runner.GetState(); st != engine.StateRunning && st != engine.StatePaused {
				return fmt.Errorf("runner state %s", st)
			}
			return nil
		},
	})
	handler := gateway.NewBinanceWSHandler(c.feedHandler(), c.cfg.Feed.DepthLevels, c.logger)
	c.lifecycle.Register(&loopComponent{
		name:   "market_feed",
		logger: c.logger,
		run:    func(ctx context.Context) error { return c.ws.Run(ctx, handler) },
	})
	c.lifecycle.Register(&loopComponent{
		name:   "position_reporter",
		logger: c.logger,
		run:    c.reportLoop,
	})
	c.lifecycle.Register(funcComponent{
		name:  "hot_reloader",
		start: c.reloader.Start,
		stop:  c.reloader.Stop,
	})
}

// stopRunner 停止事件循环（强制撤单）；实盘再按交易对撤掉残留挂单。
func (c *Container) stopRunner() error {
	err := c.runner.Stop()
	if c.cfg.Venue.Mode != config.VenueBinance {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, sym := range c.cfg.SymbolNames() {
		if cerr := c.rest.CancelAllOpen(ctx, sym); cerr != nil {
			c.logger.LogError(cerr, map[string]interface{}{"action": "cancel_all_open", "symbol": sym})
			continue
		}
		c.logger.Info("all open orders canceled", zap.String("symbol", sym))
	}
	return err
}

// onAccountUpdate 交易所持仓与本地净敞口不一致时告警。
func (c *Container) onAccountUpdate(u gateway.AccountUpdate) {
	for _, p := range u.Positions {
		sp, ok := c.pipeline.Symbol(p.Symbol)
		if !ok {
			continue
		}
		venuePos, err := p.PositionAmt.Float64()
		if err != nil {
			continue
		}
		local := sp.Inventory().NetExposure()
		if math.Abs(venuePos-local) > 1e-9 {
			c.logger.Warn("venue position differs from local inventory",
				zap.String("symbol", p.Symbol),
				zap.String("reason", u.Reason),
				zap.Float64("venue", venuePos),
				zap.Float64("local", local))
		}
	}
}

// reportLoop 周期性导出仓位与报价指标。
func (c *Container) reportLoop(ctx context.Context) error {
	t := time.NewTicker(c.opts.ReportEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.report()
		}
	}
}

func (c *Container) report() {
	for _, sym := range c.pipeline.Symbols() {
		sp, ok := c.pipeline.Symbol(sym)
		if !ok {
			continue
		}
		last := sp.Last()
		mid := last.Snapshot.Mid()
		if mid <= 0 {
			continue
		}
		pos := (&inventory.Sync{Tracker: sp.Inventory()}).Snapshot(mid)
		c.monitor.UpdatePosition(sym, pos.Net, pos.Realized, pos.Unrealized)
		if q, ok := last.Quote(); ok && q.Valid() {
			c.monitor.UpdateQuote(sym, mid, q.SpreadBps())
		}
	}
}

func (c *Container) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if err := c.HealthCheck(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// Start 启动全部组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止全部组件并关闭日志
func (c *Container) Stop() error {
	c.logger.Info("stopping container")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

// HealthCheck 组件健康检查
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}
