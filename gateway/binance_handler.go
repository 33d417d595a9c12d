package gateway

import (
	"quote-engine/market"
)

// FeedHandler 接收行情快照与逐笔成交。
type FeedHandler interface {
	OnSnapshot(snap market.Snapshot)
	OnTrade(tr Trade)
}

// FeedFuncs 函数式 FeedHandler，未设置的回调忽略。
type FeedFuncs struct {
	Snapshot func(market.Snapshot)
	Trade    func(Trade)
}

func (f FeedFuncs) OnSnapshot(snap market.Snapshot) {
	if f.Snapshot != nil {
		f.Snapshot(snap)
	}
}

func (f FeedFuncs) OnTrade(tr Trade) {
	if f.Trade != nil {
		f.Trade(tr)
	}
}
