package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-engine/monitor"
	"quote-engine/monitor/metrics"
)

func TestBinanceRESTClientListenKey(t *testing.T) {
	var methods []string
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != listenKeyPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-MBX-APIKEY") != "key" {
			t.Errorf("missing api key header")
		}
		if strings.Contains(r.URL.RawQuery, "signature=") {
			t.Errorf("listen key requests are not signed")
		}
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		if r.Method == http.MethodPost {
			io.WriteString(w, `{"listenKey":"lk-1"}`)
			return
		}
		io.WriteString(w, `{}`)
	}))
	defer ts.Close()

	c := &BinanceRESTClient{BaseURL: ts.URL, APIKey: "key", Secret: "s", HTTPClient: ts.Client()}
	key, err := c.NewListenKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lk-1", key)
	require.NoError(t, c.KeepAliveListenKey(context.Background()))
	require.NoError(t, c.CloseListenKey(context.Background()))
	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}

func TestBinanceRESTClientListenKeyAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":-1125,"msg":"This listenKey does not exist."}`)
	}))
	defer ts.Close()

	c := &BinanceRESTClient{BaseURL: ts.URL, APIKey: "key", HTTPClient: ts.Client()}
	err := c.KeepAliveListenKey(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

type fakeListenKeys struct {
	created   atomic.Int32
	keepAlive atomic.Int32
	closed    atomic.Int32
}

func (f *fakeListenKeys) NewListenKey(context.Context) (string, error) {
	n := f.created.Add(1)
	return "lk" + string(rune('0'+n)), nil
}

func (f *fakeListenKeys) KeepAliveListenKey(context.Context) error {
	f.keepAlive.Add(1)
	return nil
}

func (f *fakeListenKeys) CloseListenKey(context.Context) error {
	f.closed.Add(1)
	return nil
}

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestBinanceUserStream_PublishesAndRenewsExpiredKey(t *testing.T) {
	var paths []string
	var mu sync.Mutex
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		n := len(paths)
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, orderUpdateMsg("NEW", "NEW", "0"))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"aggTrade","s":"BTCUSDT"}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"listenKeyExpired","E":1}`))
			time.Sleep(time.Second)
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, orderUpdateMsg("TRADE", "FILLED", "0.010"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"ACCOUNT_UPDATE","E":1,"a":{"m":"ORDER","P":[{"s":"BTCUSDT","pa":"-0.01"}]}}`))
		time.Sleep(time.Second)
	}))
	defer ts.Close()

	keys := &fakeListenKeys{}
	sink := &eventSink{}
	rec := metrics.NewMemory()
	var accounts atomic.Int32
	u := NewBinanceUserStream(keys, sink)
	u.BaseEndpoint = "ws" + strings.TrimPrefix(ts.URL, "http")
	u.Recorder = rec
	u.MaxBackoff = 10 * time.Millisecond
	u.OnAccount = func(a AccountUpdate) {
		if len(a.Positions) == 1 {
			accounts.Add(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for (len(sink.snapshot()) < 2 || accounts.Load() < 1) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop on cancel")
	}

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, EventAck, events[0].Kind)
	assert.Equal(t, "8886774", events[0].VenueOrderID)
	assert.Equal(t, EventFill, events[1].Kind)
	assert.InDelta(t, 0.010, events[1].FilledQty, 1e-12)
	assert.Equal(t, int32(1), accounts.Load())

	mu.Lock()
	assert.Equal(t, []string{"/ws/lk1", "/ws/lk2"}, paths, "expired key replaced by a new one")
	mu.Unlock()
	assert.Equal(t, int32(2), keys.created.Load())
	assert.Equal(t, int32(1), keys.closed.Load(), "listen key closed on exit")
	assert.Equal(t, 1.0, rec.Counter(monitor.MetricUserStreamEvents, map[string]string{"kind": EventAck.String()}))
	assert.GreaterOrEqual(t, rec.CounterTotal(monitor.MetricUserStreamRetries), 1.0)
	up, ok := rec.Gauge(monitor.MetricUserStreamUp, nil)
	assert.True(t, ok)
	assert.Zero(t, up)
}

func TestBinanceUserStream_RequiresKeysAndSink(t *testing.T) {
	err := (&BinanceUserStream{}).Run(context.Background())
	assert.Error(t, err)
}
