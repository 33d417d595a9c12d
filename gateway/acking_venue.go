package gateway

import (
	"context"
	"sync/atomic"
	"time"
)

// AckingVenue 为同步 REST 通道补发 Ack 回报：下单/改单成功即视为交易所已确认。
// 成交与撤单回报由用户数据流经 Publish 写入同一通道。
type AckingVenue struct {
	Venue
	events  chan Event
	dropped atomic.Int64
	now     func() time.Time
}

// NewAckingVenue buffer 为回报通道容量。
func NewAckingVenue(inner Venue, buffer int) *AckingVenue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &AckingVenue{Venue: inner, events: make(chan Event, buffer), now: time.Now}
}

// Events 回报通道
func (a *AckingVenue) Events() <-chan Event { return a.events }

// Dropped 通道满被丢弃的回报数
func (a *AckingVenue) Dropped() int64 { return a.dropped.Load() }

func (a *AckingVenue) Place(ctx context.Context, req PlaceRequest) (string, error) {
	id, err := a.Venue.Place(ctx, req)
	if err != nil {
		return "", err
	}
	a.emit(Event{Kind: EventAck, Symbol: req.Symbol, OrderID: id, VenueOrderID: id, Side: req.Side, Price: req.Price})
	return id, nil
}

func (a *AckingVenue) Replace(ctx context.Context, req ReplaceRequest) (string, error) {
	id, err := a.Venue.Replace(ctx, req)
	if err != nil {
		return "", err
	}
	a.emit(Event{Kind: EventAck, Symbol: req.Symbol, OrderID: id, VenueOrderID: id, Side: req.Side, Price: req.Price})
	return id, nil
}

// Publish 投递用户数据流回报。与同步补发的 Ack 共用通道，通道满时等待而不丢弃。
func (a *AckingVenue) Publish(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = a.now()
	}
	select {
	case a.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AckingVenue) emit(ev Event) {
	ev.Time = a.now()
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
}
