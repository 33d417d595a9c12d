package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// APIError 交易所返回的业务错误。
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance status %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Temporary 5xx 与限流（429/418）可重试。
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// BinanceRESTClient 可签名的 U 本位合约客户端，实现 Venue；HTTPClient 可注入 httptest。
type BinanceRESTClient struct {
	BaseURL     string
	APIKey      string
	Secret      string
	RecvWindow  time.Duration
	HTTPClient  *http.Client
	Limiter     RateLimiter
	MaxRetries  int
	RetryBase   time.Duration
	TimeInForce string
}

var _ Venue = (*BinanceRESTClient)(nil)

type orderResp struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
}

// SignParams 按 key 排序编码参数并追加 timestamp，返回 query 与 HMAC-SHA256 签名。
func SignParams(params map[string]string, secret string) (string, string) {
	vals := make(map[string]string, len(params)+1)
	for k, v := range params {
		vals[k] = v
	}
	if _, ok := vals["timestamp"]; !ok {
		vals["timestamp"] = strconv.FormatInt(timeNowMillis(), 10)
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(vals[k]))
	}
	query := strings.Join(parts, "&")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

// Place 调用 POST /fapi/v1/order 下限价单。
func (c *BinanceRESTClient) Place(ctx context.Context, req PlaceRequest) (string, error) {
	tif := c.TimeInForce
	if tif == "" {
		tif = "GTC"
	}
	if req.PostOnly {
		tif = "GTX"
	}
	params := map[string]string{
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"type":        "LIMIT",
		"timeInForce": tif,
		"price":       formatFloat(req.Price),
		"quantity":    formatFloat(req.Size),
	}
	if req.ClientID != "" {
		params["newClientOrderId"] = req.ClientID
	}
	var resp orderResp
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		return "", fmt.Errorf("empty orderId")
	}
	return resp.OrderID.String(), nil
}

// Cancel 调用 DELETE /fapi/v1/order；无交易所 ID 时按客户端 ID 撤单。
func (c *BinanceRESTClient) Cancel(ctx context.Context, req CancelRequest) error {
	params := map[string]string{"symbol": req.Symbol}
	switch {
	case req.OrderID != "":
		params["orderId"] = req.OrderID
	case req.ClientID != "":
		params["origClientOrderId"] = req.ClientID
	default:
		return fmt.Errorf("cancel requires orderId or clientId")
	}
	return c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
}

// Replace 撤旧单后以新客户端 ID 重新下单，返回新订单 ID。
func (c *BinanceRESTClient) Replace(ctx context.Context, req ReplaceRequest) (string, error) {
	if err := c.Cancel(ctx, CancelRequest{Symbol: req.Symbol, OrderID: req.OrderID, Force: req.Force}); err != nil {
		return "", fmt.Errorf("replace cancel leg: %w", err)
	}
	id, err := c.Place(ctx, PlaceRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
		ClientID: req.ClientID,
		PostOnly: true,
	})
	if err != nil {
		return "", fmt.Errorf("replace place leg: %w", err)
	}
	return id, nil
}

// CancelAllOpen 调用 DELETE /fapi/v1/allOpenOrders。
func (c *BinanceRESTClient) CancelAllOpen(ctx context.Context, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", map[string]string{"symbol": symbol}, nil)
}

// do 签名并发送请求，可重试错误按退避重试。
func (c *BinanceRESTClient) do(ctx context.Context, method, path string, params map[string]string, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.RecvWindow > 0 {
		params["recvWindow"] = strconv.FormatInt(c.RecvWindow.Milliseconds(), 10)
	}
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			base := c.RetryBase
			if base <= 0 {
				base = 100 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(base * time.Duration(1<<(attempt-1))):
			}
		}
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		lastErr = c.once(ctx, method, path, params, out)
		if lastErr == nil || !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *BinanceRESTClient) once(ctx context.Context, method, path string, params map[string]string, out interface{}) error {
	query, sig := SignParams(params, c.Secret)
	endpoint := c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
