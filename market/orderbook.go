package market

import (
	"sort"
	"sync"
	"time"
)

// OrderBook 维护简单的价格->数量映射，由行情适配器增量更新。
type OrderBook struct {
	mu     sync.RWMutex
	symbol string
	bids   map[float64]float64 // price -> qty
	asks   map[float64]float64
	ts     time.Time
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   make(map[float64]float64),
		asks:   make(map[float64]float64),
	}
}

// ApplyDelta 应用增量更新，qty 为 0 表示删除该档。
func (ob *OrderBook) ApplyDelta(bidDelta map[float64]float64, askDelta map[float64]float64, ts time.Time) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	for p, q := range bidDelta {
		if q == 0 {
			delete(ob.bids, p)
		} else {
			ob.bids[p] = q
		}
	}
	for p, q := range askDelta {
		if q == 0 {
			delete(ob.asks, p)
		} else {
			ob.asks[p] = q
		}
	}
	if ts.After(ob.ts) {
		ob.ts = ts
	}
}

// Replace 用完整档位替换盘口（partial depth 推送）。
func (ob *OrderBook) Replace(bids, asks []Level, ts time.Time) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.bids = make(map[float64]float64, len(bids))
	ob.asks = make(map[float64]float64, len(asks))
	for _, lv := range bids {
		if lv.Qty > 0 {
			ob.bids[lv.Price] = lv.Qty
		}
	}
	for _, lv := range asks {
		if lv.Qty > 0 {
			ob.asks[lv.Price] = lv.Qty
		}
	}
	ob.ts = ts
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob *OrderBook) Best() (bestBid float64, bestAsk float64) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	for p := range ob.bids {
		if p > bestBid {
			bestBid = p
		}
	}
	for p := range ob.asks {
		if bestAsk == 0 || p < bestAsk {
			bestAsk = p
		}
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob *OrderBook) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Snapshot 生成前 depth 档的只读快照。now 用于计算采集延迟。
func (ob *OrderBook) Snapshot(depth int, now time.Time) Snapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids := sortedLevels(ob.bids, true, depth)
	asks := sortedLevels(ob.asks, false, depth)
	snap := Snapshot{
		Symbol:    ob.symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ob.ts,
	}
	if len(bids) > 0 {
		snap.BestBid, snap.BidSize = bids[0].Price, bids[0].Qty
	}
	if len(asks) > 0 {
		snap.BestAsk, snap.AskSize = asks[0].Price, asks[0].Qty
	}
	if !ob.ts.IsZero() && now.After(ob.ts) {
		snap.Latency = now.Sub(ob.ts)
	}
	return snap
}

func sortedLevels(m map[float64]float64, desc bool, depth int) []Level {
	levels := make([]Level, 0, len(m))
	for p, q := range m {
		levels = append(levels, Level{Price: p, Qty: q})
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	return levels
}
