package quote

import (
	"sort"
	"time"
)

// GuardLevel 风控等级，HARD > SOFT > NONE。
type GuardLevel int

const (
	LevelNone GuardLevel = iota
	LevelSoft
	LevelHard
)

func (l GuardLevel) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelSoft:
		return "SOFT"
	case LevelHard:
		return "HARD"
	default:
		return "UNKNOWN"
	}
}

// Max 返回更严重的等级。
func Max(a, b GuardLevel) GuardLevel {
	if a > b {
		return a
	}
	return b
}

// GuardReason 触发原因。
type GuardReason string

const (
	ReasonVolatility   GuardReason = "volatility"
	ReasonLatency      GuardReason = "latency"
	ReasonPnL          GuardReason = "pnl"
	ReasonInventory    GuardReason = "inventory"
	ReasonTakerFills   GuardReason = "taker_fills"
	ReasonHaltCooldown GuardReason = "halt_cooldown"
)

// GuardAssessment 一次风控评估结果。
type GuardAssessment struct {
	Level         GuardLevel
	Reasons       []GuardReason
	HaltUntil     time.Time // 仅 HARD 时有效
	SizeScale     float64   // SOFT 下的下单量缩放
	SpreadBumpBps float64   // SOFT 下的价差加宽
	EvaluatedAt   time.Time
}

// Halted 当前时刻是否处于停机窗口内。
func (g GuardAssessment) Halted(now time.Time) bool {
	return g.Level == LevelHard && now.Before(g.HaltUntil)
}

// HasReason 是否包含指定原因。
func (g GuardAssessment) HasReason(r GuardReason) bool {
	for _, x := range g.Reasons {
		if x == r {
			return true
		}
	}
	return false
}

// SortReasons 原因按字典序排列，便于日志与比较。
func SortReasons(rs []GuardReason) []GuardReason {
	out := append([]GuardReason(nil), rs...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FactorBreakdown 各因子对价差的贡献（bps）或原始得分。
type FactorBreakdown struct {
	Volatility float64
	Liquidity  float64
	Latency    float64
	PnL        float64
}

// Sum 各项之和。
func (f FactorBreakdown) Sum() float64 {
	return f.Volatility + f.Liquidity + f.Latency + f.PnL
}

// SpreadDecision 自适应价差结果。
type SpreadDecision struct {
	SpreadBps     float64
	BaseBps       float64
	PreviousBps   float64 // 上一 tick 实际输出的价差
	Scores        FactorBreakdown // 归一化得分 [0,1]
	Contributions FactorBreakdown // 得分 * 权重（bps）
	GuardBumpBps  float64
	Clamped       bool
	StepLimited   bool
	CooloffHeld   bool
}

// InventoryAdjustment 库存偏移调整。
type InventoryAdjustment struct {
	InventoryPct float64
	SkewBps      float64
	BidAdjustBps float64 // 负数表示降低报价
	AskAdjustBps float64
	Reverted     bool // 调整后会交叉，已撤销
}

// QueueAdjustment 队列感知微调。
type QueueAdjustment struct {
	BidNudgeBps float64
	AskNudgeBps float64
	BidAheadQty float64
	AskAheadQty float64
}

// Quote 最终双边报价。
type Quote struct {
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
}

// Valid 买价必须低于卖价。
func (q Quote) Valid() bool {
	return q.BidPrice > 0 && q.AskPrice > 0 && q.BidPrice < q.AskPrice
}

// SpreadBps 报价价差（bps）。
func (q Quote) SpreadBps() float64 {
	mid := (q.BidPrice + q.AskPrice) / 2
	if mid <= 0 {
		return 0
	}
	return (q.AskPrice - q.BidPrice) / mid * 1e4
}

// Zero 报价量是否为零。
func (q Quote) Zero() bool {
	return q.BidSize == 0 && q.AskSize == 0
}
