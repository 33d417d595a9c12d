package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"quote-engine/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", false, "使用 paper 通道本地撮合，不真正下单")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置")
	flag.Parse()

	c, err := container.New(container.Options{
		ConfigPath:  *cfgPath,
		DryRun:      *dryRun,
		MetricsAddr: *metricsAddr,
	})
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	notify(daemon.SdNotifyReady)
	go watchdogLoop(ctx, c)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("收到信号 %s，开始撤单并退出", sig)

	notify(daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		log.Printf("停止过程中出现错误: %v", err)
		os.Exit(1)
	}
}

// watchdogLoop systemd 启用 WatchdogSec 时，健康检查通过才喂狗。
func watchdogLoop(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.HealthCheck(); err != nil {
				log.Printf("健康检查失败，跳过 watchdog: %v", err)
				continue
			}
			notify(daemon.SdNotifyWatchdog)
		}
	}
}

// notify 非 systemd 环境下为空操作。
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("sd_notify %s 失败: %v", state, err)
	}
}
