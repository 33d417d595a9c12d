package gateway

import (
	"context"
	"time"

	"quote-engine/order"
)

// PlaceRequest 下单请求。
type PlaceRequest struct {
	Symbol   string
	Side     order.Side
	Price    float64
	Size     float64
	ClientID string
	PostOnly bool
}

// CancelRequest 撤单请求。Force 仅作透传，便于交易所侧审计。
type CancelRequest struct {
	Symbol   string
	OrderID  string
	ClientID string
	Force    bool
}

// ReplaceRequest 改单请求，成功后返回新订单 ID。
type ReplaceRequest struct {
	Symbol   string
	OrderID  string
	Side     order.Side
	Price    float64
	Size     float64
	ClientID string
	Force    bool
}

// Venue 交易所连接抽象；重试与退避由实现方负责。
type Venue interface {
	Place(ctx context.Context, req PlaceRequest) (string, error)
	Cancel(ctx context.Context, req CancelRequest) error
	Replace(ctx context.Context, req ReplaceRequest) (string, error)
}

// EventKind 交易所回报类型。
type EventKind int

const (
	EventAck EventKind = iota
	EventReject
	EventFill
	EventCanceled
)

func (k EventKind) String() string {
	switch k {
	case EventAck:
		return "ack"
	case EventReject:
		return "reject"
	case EventFill:
		return "fill"
	case EventCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Event 异步回报。
type Event struct {
	Kind         EventKind
	Symbol       string
	OrderID      string // 客户端订单 ID，缺失时为交易所 ID
	VenueOrderID string
	Side         order.Side
	Price        float64
	FilledQty    float64
	Taker        bool
	Reason       string
	Time         time.Time
}

// EventPublisher 接收外部来源（用户数据流）的回报，可阻塞到 ctx 结束。
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSink 接收异步回报。
type EventSink interface {
	OnVenueEvent(ev Event)
}

// EventSinkFunc 函数适配器。
type EventSinkFunc func(Event)

func (f EventSinkFunc) OnVenueEvent(ev Event) { f(ev) }
