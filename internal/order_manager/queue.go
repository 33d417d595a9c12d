package order_manager

import (
	"go.uber.org/zap"

	"quote-engine/market"
	"quote-engine/monitor"
	"quote-engine/order"
)

// QueueDelta 一次盘口/成交更新导致的排队位置变化。
type QueueDelta struct {
	OrderID string
	Side    order.Side
	Price   float64
	Before  float64
	After   float64
}

// Delta 正数表示前方挂单量减少。
func (d QueueDelta) Delta() float64 { return d.Before - d.After }

// aheadAtPlacement 新单排在同价位已有挂单之后。
func (m *Manager) aheadAtPlacement(side order.Side, price float64) float64 {
	if m.lastSnap == nil {
		return 0
	}
	return m.lastSnap.QtyAt(side.BookSide(), price)
}

// OnBook 用最新盘口更新每个订单的前方挂单量；同价位新增的量排在我们之后，因此只会减少。
func (m *Manager) OnBook(snap market.Snapshot) []QueueDelta {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snap
	m.lastSnap = &s
	if mid := snap.Mid(); mid > 0 {
		m.lastMid = mid
	}
	var deltas []QueueDelta
	for _, o := range m.sortedActive("") {
		levelQty := snap.QtyAt(o.Side.BookSide(), o.Price)
		if levelQty >= o.AheadVolume {
			continue
		}
		deltas = append(deltas, m.shrinkAhead(o, levelQty))
	}
	return deltas
}

// OnTrade 成交消耗 side 侧 price 价位的挂单；穿价成交意味着前方已清空。
func (m *Manager) OnTrade(side market.Side, price, qty float64) []QueueDelta {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deltas []QueueDelta
	for _, o := range m.sortedActive("") {
		if o.Side.BookSide() != side || o.AheadVolume <= 0 {
			continue
		}
		var after float64
		switch {
		case market.SamePrice(o.Price, price):
			after = o.AheadVolume - qty
			if after < 0 {
				after = 0
			}
		case tradedThrough(side, o.Price, price):
			after = 0
		default:
			continue
		}
		deltas = append(deltas, m.shrinkAhead(o, after))
	}
	return deltas
}

func (m *Manager) shrinkAhead(o *TrackedOrder, after float64) QueueDelta {
	d := QueueDelta{OrderID: o.ID, Side: o.Side, Price: o.Price, Before: o.AheadVolume, After: after}
	o.AheadVolume = after
	m.rec.Observe(monitor.MetricQueuePosDelta, d.Delta(), m.labels(o.Side))
	m.logDebug("queue position advanced",
		zap.String("order_id", o.ID),
		zap.Float64("before", d.Before),
		zap.Float64("after", d.After))
	return d
}

// tradedThrough 买盘成交价低于我们的买价（或卖盘高于卖价）说明已吃穿我们的价位。
func tradedThrough(side market.Side, orderPrice, tradePrice float64) bool {
	if side == market.Bid {
		return tradePrice < orderPrice
	}
	return tradePrice > orderPrice
}
