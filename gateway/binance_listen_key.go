package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const listenKeyPath = "/fapi/v1/listenKey"

// NewListenKey 创建（或取回已有的）用户数据流 listenKey。
func (c *BinanceRESTClient) NewListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.doKeyed(ctx, http.MethodPost, &resp); err != nil {
		return "", err
	}
	if resp.ListenKey == "" {
		return "", fmt.Errorf("empty listenKey")
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey 延长 listenKey 有效期（交易所 60 分钟失效）。
func (c *BinanceRESTClient) KeepAliveListenKey(ctx context.Context) error {
	return c.doKeyed(ctx, http.MethodPut, nil)
}

// CloseListenKey 关闭用户数据流。
func (c *BinanceRESTClient) CloseListenKey(ctx context.Context) error {
	return c.doKeyed(ctx, http.MethodDelete, nil)
}

// doKeyed listenKey 接口只需要 API key，不签名。
func (c *BinanceRESTClient) doKeyed(ctx context.Context, method string, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+listenKeyPath, nil)
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
