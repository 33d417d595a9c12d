package strategy

import (
	"math"
	"sync"
	"time"

	"quote-engine/market"
)

// QueuePosition 某价格在盘口中的排队位置估计。
type QueuePosition struct {
	AheadQty   float64
	TotalQty   float64
	Percentile float64 // 0 表示最前
	Level      int
	AtBest     bool
}

// EstimateQueuePosition 在前 depth 档内估计以 price 挂单时前方的数量。
func EstimateQueuePosition(snap market.Snapshot, side market.Side, price float64, depth int) QueuePosition {
	levels := snap.Levels(side)
	if depth > 0 && len(levels) > depth {
		levels = levels[:depth]
	}
	if len(levels) == 0 {
		return QueuePosition{AtBest: true}
	}

	better := func(p float64) bool {
		if side == market.Bid {
			return p > price
		}
		return p < price
	}

	var pos QueuePosition
	for _, lv := range levels {
		pos.TotalQty += lv.Qty
	}
	if !better(levels[0].Price) && !market.SamePrice(levels[0].Price, price) {
		// 比最优价更激进，排在最前
		pos.AtBest = true
		return pos
	}

	pos.Level = len(levels)
	for i, lv := range levels {
		if better(lv.Price) {
			pos.AheadQty += lv.Qty
			continue
		}
		if market.SamePrice(lv.Price, price) {
			pos.AheadQty += lv.Qty
			pos.AtBest = i == 0
		}
		// 价格位于两档之间时，前方只计更优档位
		pos.Level = i
		break
	}
	if pos.TotalQty > 0 {
		pos.Percentile = clampRange(pos.AheadQty/pos.TotalQty*100, 0, 100)
	}
	return pos
}

// QueueAwareConfig 队列感知微调配置。
type QueueAwareConfig struct {
	Enabled          bool
	DepthLevels      int
	JoinThresholdPct float64       // 排队百分位高于该值才考虑微调
	MaxRepriceBps    float64       // 单次微调上限
	Headroom         time.Duration // 同一侧两次微调的最小间隔
}

// DefaultQueueAwareConfig 返回默认配置
func DefaultQueueAwareConfig() QueueAwareConfig {
	return QueueAwareConfig{
		Enabled:          true,
		DepthLevels:      3,
		JoinThresholdPct: 50,
		MaxRepriceBps:    1,
		Headroom:         250 * time.Millisecond,
	}
}

// QueueRepricer 根据排队位置把报价向最优价微调，不越过公允价。
type QueueRepricer struct {
	cfg       QueueAwareConfig
	lastNudge map[market.Side]time.Time
	mu        sync.Mutex
}

// NewQueueRepricer 创建微调器
func NewQueueRepricer(cfg QueueAwareConfig) *QueueRepricer {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = DefaultQueueAwareConfig().DepthLevels
	}
	return &QueueRepricer{cfg: cfg, lastNudge: make(map[market.Side]time.Time)}
}

// UpdateConfig 热更新配置
func (r *QueueRepricer) UpdateConfig(cfg QueueAwareConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = DefaultQueueAwareConfig().DepthLevels
	}
	r.cfg = cfg
}

// Nudge 返回新价格、排队位置以及是否发生微调。
func (r *QueueRepricer) Nudge(snap market.Snapshot, side market.Side, price, fairValue float64, now time.Time) (float64, QueuePosition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos := EstimateQueuePosition(snap, side, price, r.cfg.DepthLevels)
	if !r.cfg.Enabled || price <= 0 {
		return price, pos, false
	}
	if last, ok := r.lastNudge[side]; ok && now.Sub(last) < r.cfg.Headroom {
		return price, pos, false
	}
	if pos.AtBest || pos.Percentile <= r.cfg.JoinThresholdPct {
		return price, pos, false
	}

	maxNudge := r.cfg.MaxRepriceBps / 1e4 * price
	var next float64
	if side == market.Bid {
		next = math.Min(price+maxNudge, snap.BestBid)
		if fairValue > 0 {
			next = math.Min(next, fairValue)
		}
		next = math.Max(next, price)
	} else {
		next = math.Max(price-maxNudge, snap.BestAsk)
		if fairValue > 0 {
			next = math.Max(next, fairValue)
		}
		next = math.Min(next, price)
	}
	if math.Abs(next-price) < 0.01/1e4*price {
		return price, pos, false
	}
	r.lastNudge[side] = now
	return next, pos, true
}
