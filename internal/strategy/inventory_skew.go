package strategy

import "math"

// InventorySkewConfig 库存偏移配置。库存以最大仓位百分比表示（-100..100）。
type InventorySkewConfig struct {
	Enabled        bool
	TargetPct      float64 // 目标库存百分比
	ClampPct       float64 // 偏离小于该值时不调整
	SlopeBpsPerPct float64 // 每 1% 偏离对应的 bps
	MaxSkewBps     float64
}

// DefaultInventorySkewConfig 返回默认配置
func DefaultInventorySkewConfig() InventorySkewConfig {
	return InventorySkewConfig{
		Enabled:        true,
		ClampPct:       5,
		SlopeBpsPerPct: 0.1,
		MaxSkewBps:     5,
	}
}

// InventoryPct 当前仓位占最大仓位的百分比，限制在 [-100,100]。
func InventoryPct(position, maxPosition float64) float64 {
	if maxPosition <= 0 {
		return 0
	}
	return clampRange(position/maxPosition*100, -100, 100)
}

// SkewBps 正数表示多头库存，负数表示空头库存。
func SkewBps(cfg InventorySkewConfig, inventoryPct float64) float64 {
	if !cfg.Enabled {
		return 0
	}
	delta := inventoryPct - cfg.TargetPct
	if math.Abs(delta) < cfg.ClampPct {
		return 0
	}
	return clampRange(delta*cfg.SlopeBpsPerPct, -cfg.MaxSkewBps, cfg.MaxSkewBps)
}

// SkewResult 偏移后的价格。
type SkewResult struct {
	BidPrice     float64
	AskPrice     float64
	SkewBps      float64
	BidAdjustBps float64
	AskAdjustBps float64
	Reverted     bool
}

// ApplySkew 多头：卖价下移 skew/2、买价下移 skew/4；空头对称。
// 调整后若买价不低于卖价则撤销调整。
func ApplySkew(cfg InventorySkewConfig, inventoryPct, bid, ask float64) SkewResult {
	skew := SkewBps(cfg, inventoryPct)
	res := SkewResult{BidPrice: bid, AskPrice: ask, SkewBps: skew}
	if skew == 0 {
		return res
	}
	if skew > 0 {
		res.AskAdjustBps = -skew / 2
		res.BidAdjustBps = -skew / 4
	} else {
		res.BidAdjustBps = -skew / 2
		res.AskAdjustBps = -skew / 4
	}
	adjBid := bid * (1 + res.BidAdjustBps/1e4)
	adjAsk := ask * (1 + res.AskAdjustBps/1e4)
	if adjBid >= adjAsk {
		res.BidAdjustBps, res.AskAdjustBps = 0, 0
		res.Reverted = true
		return res
	}
	res.BidPrice, res.AskPrice = adjBid, adjAsk
	return res
}
