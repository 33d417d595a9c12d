package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"quote-engine/market"
)

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// DepthUpdate 提取 depth20@100ms 消息的核心字段。
type DepthUpdate struct {
	Event     string           `json:"e"`
	EventTime int64            `json:"E"`
	Symbol    string           `json:"s"`
	Bids      [][2]json.Number `json:"b"`
	Asks      [][2]json.Number `json:"a"`
}

// AggTrade aggTrade 消息；M=true 表示买方是挂单方（卖方主动）。
type AggTrade struct {
	Event        string      `json:"e"`
	EventTime    int64       `json:"E"`
	Symbol       string      `json:"s"`
	Price        json.Number `json:"p"`
	Qty          json.Number `json:"q"`
	TradeTime    int64       `json:"T"`
	BuyerIsMaker bool        `json:"m"`
}

// Depth 解析后的深度。
type Depth struct {
	Symbol    string
	Bids      []market.Level
	Asks      []market.Level
	EventTime time.Time
}

// Trade 解析后的成交；RestingSide 为被吃掉的挂单所在方向。
type Trade struct {
	Symbol      string
	Price       float64
	Qty         float64
	RestingSide market.Side
	Time        time.Time
}

// ParseCombinedDepth 解析 combined stream 的 depth 消息（全部档位）。
func ParseCombinedDepth(raw []byte) (Depth, error) {
	var msg CombinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Depth{}, err
	}
	return parseDepth(msg.Data)
}

func parseDepth(data []byte) (Depth, error) {
	var du DepthUpdate
	if err := json.Unmarshal(data, &du); err != nil {
		return Depth{}, err
	}
	if du.Symbol == "" {
		return Depth{}, fmt.Errorf("depth message missing symbol")
	}
	bids, err := parseLevels(du.Bids)
	if err != nil {
		return Depth{}, fmt.Errorf("depth %s bids: %w", du.Symbol, err)
	}
	asks, err := parseLevels(du.Asks)
	if err != nil {
		return Depth{}, fmt.Errorf("depth %s asks: %w", du.Symbol, err)
	}
	d := Depth{Symbol: du.Symbol, Bids: bids, Asks: asks}
	if du.EventTime > 0 {
		d.EventTime = time.UnixMilli(du.EventTime).UTC()
	}
	return d, nil
}

func parseTrade(data []byte) (Trade, error) {
	var at AggTrade
	if err := json.Unmarshal(data, &at); err != nil {
		return Trade{}, err
	}
	price, err := at.Price.Float64()
	if err != nil {
		return Trade{}, fmt.Errorf("trade %s price: %w", at.Symbol, err)
	}
	qty, err := at.Qty.Float64()
	if err != nil {
		return Trade{}, fmt.Errorf("trade %s qty: %w", at.Symbol, err)
	}
	tr := Trade{Symbol: at.Symbol, Price: price, Qty: qty, RestingSide: market.Ask}
	if at.BuyerIsMaker {
		tr.RestingSide = market.Bid
	}
	if at.TradeTime > 0 {
		tr.Time = time.UnixMilli(at.TradeTime).UTC()
	}
	return tr, nil
}

func parseLevels(raw [][2]json.Number) ([]market.Level, error) {
	out := make([]market.Level, 0, len(raw))
	for _, lv := range raw {
		p, err := lv[0].Float64()
		if err != nil {
			return nil, err
		}
		q, err := lv[1].Float64()
		if err != nil {
			return nil, err
		}
		out = append(out, market.Level{Price: p, Qty: q})
	}
	return out, nil
}

// streamKind 根据流名区分 depth / aggTrade。
func streamKind(stream string) string {
	switch {
	case strings.Contains(stream, "@depth"):
		return "depth"
	case strings.HasSuffix(stream, "@aggTrade"):
		return "trade"
	default:
		return ""
	}
}
