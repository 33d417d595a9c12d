package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quote-engine/infrastructure/logger"
	"quote-engine/monitor"
)

// ErrListenKeyExpired 交易所通知 listenKey 失效，需要重新创建。
var ErrListenKeyExpired = errors.New("listen key expired")

// ListenKeyService listenKey 的创建、续期与关闭。
type ListenKeyService interface {
	NewListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
	CloseListenKey(ctx context.Context) error
}

// BinanceUserStream 用户数据流：维护 listenKey 与续期，把订单更新转成 Event 投递给 Sink，
// 断线或 listenKey 失效后按退避重建。
type BinanceUserStream struct {
	Keys         ListenKeyService
	Sink         EventPublisher
	BaseEndpoint string
	Dialer       *websocket.Dialer
	ReadTimeout  time.Duration
	KeepAlive    time.Duration
	MaxBackoff   time.Duration
	Recorder     monitor.Recorder
	Logger       *logger.Logger

	// OnAccount 收到 ACCOUNT_UPDATE 时回调，可为 nil。
	OnAccount func(AccountUpdate)
}

// NewBinanceUserStream 默认 25 分钟续期一次。
func NewBinanceUserStream(keys ListenKeyService, sink EventPublisher) *BinanceUserStream {
	return &BinanceUserStream{
		Keys:         keys,
		Sink:         sink,
		BaseEndpoint: BinanceFuturesWSEndpoint,
		Dialer:       websocket.DefaultDialer,
		ReadTimeout:  5 * time.Minute,
		KeepAlive:    25 * time.Minute,
		MaxBackoff:   30 * time.Second,
		Recorder:     monitor.Nop{},
		Logger:       logger.NewNop(),
	}
}

// Run 阻塞直到 ctx 取消，退出时关闭 listenKey。
func (u *BinanceUserStream) Run(ctx context.Context) error {
	if u.Keys == nil || u.Sink == nil {
		return fmt.Errorf("user stream requires listen key service and sink")
	}
	rec := monitor.OrNop(u.Recorder)
	log := logger.OrNop(u.Logger)
	opened := false
	defer func() {
		if !opened {
			return
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := u.Keys.CloseListenKey(closeCtx); err != nil {
			log.Warn("close listen key failed", zap.Error(err))
		}
	}()

	retry := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := u.session(ctx, func() {
			opened = true
			retry = 0
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := Backoff(retry, u.MaxBackoff)
		if errors.Is(err, ErrListenKeyExpired) {
			delay = 0
		}
		retry++
		rec.Inc(monitor.MetricUserStreamRetries, nil)
		log.Warn("user stream ended, reconnecting",
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

func (u *BinanceUserStream) session(ctx context.Context, connected func()) error {
	key, err := u.Keys.NewListenKey(ctx)
	if err != nil {
		return fmt.Errorf("new listen key: %w", err)
	}
	dialer := u.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	endpoint := strings.TrimRight(u.BaseEndpoint, "/") + "/ws/" + key
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	connected()

	rec := monitor.OrNop(u.Recorder)
	rec.Set(monitor.MetricUserStreamUp, 1, nil)
	defer rec.Set(monitor.MetricUserStreamUp, 0, nil)
	logger.OrNop(u.Logger).Info("user stream connected")

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// 会话结束或 ctx 取消时关闭连接以打断阻塞读
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()
	go u.keepAlive(sctx)

	for {
		if u.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(u.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := u.handle(sctx, msg); err != nil {
			return err
		}
	}
}

func (u *BinanceUserStream) keepAlive(ctx context.Context) {
	if u.KeepAlive <= 0 {
		return
	}
	t := time.NewTicker(u.KeepAlive)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := u.Keys.KeepAliveListenKey(ctx); err != nil && ctx.Err() == nil {
				logger.OrNop(u.Logger).Warn("listen key keepalive failed", zap.Error(err))
			}
		}
	}
}

// handle 只有 listenKey 失效或投递被取消时返回错误。
func (u *BinanceUserStream) handle(ctx context.Context, raw []byte) error {
	ev, err := ParseUserData(raw)
	if err != nil {
		if !errors.Is(err, ErrNonUserData) {
			logger.OrNop(u.Logger).Warn("parse user data failed", zap.Error(err))
		}
		return nil
	}
	switch ev.Type {
	case UserEventOrderUpdate:
		out, ok := ev.Order.Event()
		if !ok {
			return nil
		}
		monitor.OrNop(u.Recorder).Inc(monitor.MetricUserStreamEvents, map[string]string{"kind": out.Kind.String()})
		return u.Sink.Publish(ctx, out)
	case UserEventAccountUpdate:
		if u.OnAccount != nil {
			u.OnAccount(*ev.Account)
		}
	case UserEventListenKeyExpired:
		return ErrListenKeyExpired
	}
	return nil
}
