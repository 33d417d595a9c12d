package gateway

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quote-engine/infrastructure/logger"
	"quote-engine/monitor"
)

const (
	BinanceFuturesWSEndpoint   = "wss://fstream.binance.com"
	BinanceFuturesRESTEndpoint = "https://fapi.binance.com"
)

// RawHandler 接收 ws 原始消息。
type RawHandler interface {
	OnRawMessage(raw []byte)
}

// BinanceWSReal 组合订阅深度/成交流，断线后指数退避重连。
type BinanceWSReal struct {
	BaseEndpoint string // 默认 wss://fstream.binance.com
	Dialer       *websocket.Dialer
	ReadTimeout  time.Duration
	MaxBackoff   time.Duration
	Recorder     monitor.Recorder
	Logger       *logger.Logger

	streams []string
}

func NewBinanceWSReal() *BinanceWSReal {
	return &BinanceWSReal{
		BaseEndpoint: BinanceFuturesWSEndpoint,
		Dialer:       websocket.DefaultDialer,
		ReadTimeout:  30 * time.Second,
		MaxBackoff:   30 * time.Second,
		Recorder:     monitor.Nop{},
		Logger:       logger.NewNop(),
	}
}

// SubscribeDepth 订阅 20 档 100ms 深度。
func (b *BinanceWSReal) SubscribeDepth(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol required")
	}
	b.streams = append(b.streams, strings.ToLower(symbol)+"@depth20@100ms")
	return nil
}

// SubscribeTrades 订阅归集成交。
func (b *BinanceWSReal) SubscribeTrades(symbol string) error {
	if symbol == "" {
		return fmt.Errorf("symbol required")
	}
	b.streams = append(b.streams, strings.ToLower(symbol)+"@aggTrade")
	return nil
}

// URL 构建 combined stream 地址。
func (b *BinanceWSReal) URL() (string, error) {
	if len(b.streams) == 0 {
		return "", fmt.Errorf("no streams subscribed")
	}
	u, err := url.Parse(b.BaseEndpoint)
	if err != nil {
		return "", fmt.Errorf("parse ws endpoint: %w", err)
	}
	u.Path = "/stream"
	q := u.Query()
	q.Set("streams", strings.Join(b.streams, "/"))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run 阻塞读取直到 ctx 取消；连接断开后按退避重连。
func (b *BinanceWSReal) Run(ctx context.Context, handler RawHandler) error {
	endpoint, err := b.URL()
	if err != nil {
		return err
	}
	rec := monitor.OrNop(b.Recorder)
	log := logger.OrNop(b.Logger)
	retry := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := b.session(ctx, endpoint, handler, func() { retry = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := Backoff(retry, b.MaxBackoff)
		retry++
		rec.Inc(monitor.MetricWsReconnects, nil)
		log.Warn("ws session ended, reconnecting",
			zap.Error(err),
			zap.Int("retry", retry),
			zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (b *BinanceWSReal) session(ctx context.Context, endpoint string, handler RawHandler, connected func()) error {
	dialer := b.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	connected()

	// ctx 取消时关闭连接以打断阻塞读
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		if b.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(b.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			handler.OnRawMessage(message)
		}
	}
}

// Backoff 指数退避：200ms * 2^retry，封顶 max。
func Backoff(retry int, max time.Duration) time.Duration {
	const base = 200 * time.Millisecond
	if max <= 0 {
		max = 30 * time.Second
	}
	if retry < 0 {
		return base
	}
	if retry > 20 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if d > max {
		return max
	}
	return d
}
