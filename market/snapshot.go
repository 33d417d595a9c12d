package market

import (
	"fmt"
	"math"
	"time"
)

// Side 盘口方向。
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "BID"
	case Ask:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Level 单个价格档位。
type Level struct {
	Price float64
	Qty   float64
}

// Snapshot 单个 tick 的盘口快照，创建后只读。
// Bids 按价格从高到低，Asks 按价格从低到高。
type Snapshot struct {
	Symbol    string
	BestBid   float64
	BestAsk   float64
	BidSize   float64
	AskSize   float64
	Bids      []Level
	Asks      []Level
	Timestamp time.Time
	Latency   time.Duration // 采集/传输延迟估计
}

// ValidationError 行情数据缺失或格式错误，只中止当前 symbol 的本次 tick。
type ValidationError struct {
	Symbol string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid snapshot for %s: %s %s", e.Symbol, e.Field, e.Reason)
}

// Validate 检查快照完整性。
func (s Snapshot) Validate() error {
	invalid := func(field, reason string) error {
		return &ValidationError{Symbol: s.Symbol, Field: field, Reason: reason}
	}
	if s.Symbol == "" {
		return invalid("symbol", "is empty")
	}
	if !finite(s.BestBid) || s.BestBid <= 0 {
		return invalid("best_bid", "must be > 0")
	}
	if !finite(s.BestAsk) || s.BestAsk <= 0 {
		return invalid("best_ask", "must be > 0")
	}
	if s.BestBid >= s.BestAsk {
		return invalid("best_bid", fmt.Sprintf("%.8f crosses best_ask %.8f", s.BestBid, s.BestAsk))
	}
	if !finite(s.BidSize) || !finite(s.AskSize) || s.BidSize < 0 || s.AskSize < 0 {
		return invalid("size", "must be >= 0")
	}
	if s.Timestamp.IsZero() {
		return invalid("timestamp", "is missing")
	}
	if s.Latency < 0 {
		return invalid("latency", "must be >= 0")
	}
	for _, lv := range s.Bids {
		if !finite(lv.Price) || !finite(lv.Qty) || lv.Price <= 0 || lv.Qty < 0 {
			return invalid("bids", "contains a bad level")
		}
	}
	for _, lv := range s.Asks {
		if !finite(lv.Price) || !finite(lv.Qty) || lv.Price <= 0 || lv.Qty < 0 {
			return invalid("asks", "contains a bad level")
		}
	}
	return nil
}

// Mid 中间价。
func (s Snapshot) Mid() float64 {
	return (s.BestBid + s.BestAsk) / 2
}

// SpreadBps 盘口价差（bps）。
func (s Snapshot) SpreadBps() float64 {
	mid := s.Mid()
	if mid <= 0 {
		return 0
	}
	return (s.BestAsk - s.BestBid) / mid * 1e4
}

// Levels 返回某一侧的档位。
func (s Snapshot) Levels(side Side) []Level {
	if side == Bid {
		return s.Bids
	}
	return s.Asks
}

// DepthQty 前 n 档累计数量；n<=0 表示全部。
func (s Snapshot) DepthQty(side Side, n int) float64 {
	levels := s.Levels(side)
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, lv := range levels[:n] {
		total += lv.Qty
	}
	return total
}

// QtyAt 某价格档的挂单量，不存在返回 0。
func (s Snapshot) QtyAt(side Side, price float64) float64 {
	for _, lv := range s.Levels(side) {
		if SamePrice(lv.Price, price) {
			return lv.Qty
		}
	}
	return 0
}

// SamePrice 相对误差 1e-9 内视为同一价位。
func SamePrice(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
