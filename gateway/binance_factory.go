package gateway

import (
	"net/http"
	"time"
)

// BinanceConfig 连接参数，密钥由配置层从环境变量注入。
type BinanceConfig struct {
	RestURL        string
	WSEndpoint     string
	APIKey         string
	APISecret      string
	RequestsPerSec float64
	Burst          int
	MaxRetries     int
	RecvWindow     time.Duration
}

// BuildRealBinanceClients 构建 REST 交易客户端与行情 WS（不发起连接）。
// 调用方可传入自定义 http.Client（带代理/超时），否则使用默认。
func BuildRealBinanceClients(cfg BinanceConfig, httpCli *http.Client) (*BinanceRESTClient, *BinanceWSReal) {
	if httpCli == nil {
		httpCli = NewDefaultHTTPClient()
	}
	if cfg.RestURL == "" {
		cfg.RestURL = BinanceFuturesRESTEndpoint
	}
	rest := &BinanceRESTClient{
		BaseURL:    cfg.RestURL,
		APIKey:     cfg.APIKey,
		Secret:     cfg.APISecret,
		RecvWindow: cfg.RecvWindow,
		HTTPClient: httpCli,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.RequestsPerSec > 0 {
		rest.Limiter = NewTokenBucketLimiter(cfg.RequestsPerSec, cfg.Burst)
	}
	ws := NewBinanceWSReal()
	if cfg.WSEndpoint != "" {
		ws.BaseEndpoint = cfg.WSEndpoint
	}
	return rest, ws
}
