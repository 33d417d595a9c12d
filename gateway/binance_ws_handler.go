package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"quote-engine/infrastructure/logger"
	"quote-engine/market"
)

// BinanceWSHandler 解析 combined 消息，维护各交易对 orderbook 并向下游推送快照。
type BinanceWSHandler struct {
	Next   FeedHandler
	Depth  int
	Logger *logger.Logger
	Now    func() time.Time

	mu    sync.Mutex
	books map[string]*market.OrderBook
}

// NewBinanceWSHandler depth<=0 时保留 20 档。
func NewBinanceWSHandler(next FeedHandler, depth int, log *logger.Logger) *BinanceWSHandler {
	if depth <= 0 {
		depth = 20
	}
	return &BinanceWSHandler{
		Next:   next,
		Depth:  depth,
		Logger: logger.OrNop(log),
		Now:    time.Now,
		books:  make(map[string]*market.OrderBook),
	}
}

// OnRawMessage 直接传入 ws 原始消息。
func (h *BinanceWSHandler) OnRawMessage(raw []byte) {
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.Logger.Warn("parse combined msg failed", zap.Error(err))
		return
	}
	switch streamKind(msg.Stream) {
	case "depth":
		d, err := parseDepth(msg.Data)
		if err != nil {
			h.Logger.Warn("parse depth msg failed", zap.String("stream", msg.Stream), zap.Error(err))
			return
		}
		h.OnDepth(d)
	case "trade":
		tr, err := parseTrade(msg.Data)
		if err != nil {
			h.Logger.Warn("parse trade msg failed", zap.String("stream", msg.Stream), zap.Error(err))
			return
		}
		if h.Next != nil {
			h.Next.OnTrade(tr)
		}
	}
}

// OnDepth 用部分深度快照整体替换该交易对的 orderbook。
func (h *BinanceWSHandler) OnDepth(d Depth) {
	now := h.Now()
	ts := d.EventTime
	if ts.IsZero() {
		ts = now
	}
	h.mu.Lock()
	book, ok := h.books[d.Symbol]
	if !ok {
		book = market.NewOrderBook(d.Symbol)
		h.books[d.Symbol] = book
	}
	book.Replace(d.Bids, d.Asks, ts)
	snap := book.Snapshot(h.Depth, now)
	h.mu.Unlock()

	if h.Next != nil {
		h.Next.OnSnapshot(snap)
	}
}
