package order

import "quote-engine/market"

// Status represents order lifecycle.
type Status string

const (
	StatusPending         Status = "PENDING" // 已提交，等待交易所确认
	StatusOpen            Status = "OPEN"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusReplaced        Status = "REPLACED" // 已被新订单替换
	StatusRejected        Status = "REJECTED"
)

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// BookSide 订单对应的盘口方向。
func (s Side) BookSide() market.Side {
	if s == SideBuy {
		return market.Bid
	}
	return market.Ask
}

// Opposite 反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sides 固定顺序遍历两侧。
var Sides = []Side{SideBuy, SideSell}
