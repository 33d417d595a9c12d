package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"quote-engine/market"
	"quote-engine/order"
)

// ErrPaperFailure 模拟的交易所失败。
var ErrPaperFailure = errors.New("simulated venue failure")

type paperOrder struct {
	id       string
	clientID string
	symbol   string
	side     order.Side
	price    float64
	qty      float64
	filled   float64
	postOnly bool
	seq      int
}

// PaperVenue 本地撮合的模拟交易所：下单即确认，盘口穿价或成交打到挂单价时成交。
// 回报通过 Events() 异步投递。
type PaperVenue struct {
	mu          sync.Mutex
	orders      map[string]*paperOrder
	seq         int
	events      chan Event
	latency     time.Duration
	failureRate float64
	rng         *rand.Rand
	best        map[string][2]float64
	now         func() time.Time

	placeCount  int
	cancelCount int
	dropped     int
}

// NewPaperVenue buffer 为回报通道容量。
func NewPaperVenue(buffer int) *PaperVenue {
	if buffer <= 0 {
		buffer = 1024
	}
	return &PaperVenue{
		orders: make(map[string]*paperOrder),
		events: make(chan Event, buffer),
		rng:    rand.New(rand.NewSource(1)),
		best:   make(map[string][2]float64),
		now:    time.Now,
	}
}

var _ Venue = (*PaperVenue)(nil)

// SetLatency 每次请求的模拟延迟。
func (p *PaperVenue) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// SetFailureRate 请求失败概率（0.0-1.0）。
func (p *PaperVenue) SetFailureRate(rate float64, seed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureRate = rate
	p.rng = rand.New(rand.NewSource(seed))
}

// Events 异步回报通道。
func (p *PaperVenue) Events() <-chan Event { return p.events }

func (p *PaperVenue) simulate(ctx context.Context) error {
	if p.latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.latency):
		}
	}
	if p.failureRate > 0 && p.rng.Float64() < p.failureRate {
		return ErrPaperFailure
	}
	return nil
}

// Place 下单
func (p *PaperVenue) Place(ctx context.Context, req PlaceRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placeCount++
	if err := p.simulate(ctx); err != nil {
		return "", err
	}
	if req.Price <= 0 || req.Size <= 0 {
		return "", fmt.Errorf("invalid order price=%.8f size=%.8f", req.Price, req.Size)
	}
	p.seq++
	id := fmt.Sprintf("paper-%d", p.seq)
	o := &paperOrder{
		id: id, clientID: req.ClientID, symbol: req.Symbol, side: req.Side,
		price: req.Price, qty: req.Size, postOnly: req.PostOnly, seq: p.seq,
	}
	if o.postOnly && p.wouldCross(o) {
		p.emit(Event{Kind: EventReject, Symbol: o.symbol, OrderID: id, Side: o.side, Reason: "post only would cross"})
		return id, nil
	}
	p.orders[id] = o
	p.emit(Event{Kind: EventAck, Symbol: o.symbol, OrderID: id, VenueOrderID: id, Side: o.side, Price: o.price})
	return id, nil
}

// Cancel 撤单
func (p *PaperVenue) Cancel(ctx context.Context, req CancelRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelCount++
	if err := p.simulate(ctx); err != nil {
		return err
	}
	o := p.find(req.OrderID, req.ClientID)
	if o == nil {
		return fmt.Errorf("order not found: %s", req.OrderID)
	}
	delete(p.orders, o.id)
	return nil
}

// Replace 撤旧挂新
func (p *PaperVenue) Replace(ctx context.Context, req ReplaceRequest) (string, error) {
	p.mu.Lock()
	o := p.find(req.OrderID, "")
	if o == nil {
		p.mu.Unlock()
		return "", fmt.Errorf("order not found: %s", req.OrderID)
	}
	delete(p.orders, o.id)
	p.mu.Unlock()
	return p.Place(ctx, PlaceRequest{
		Symbol: req.Symbol, Side: req.Side, Price: req.Price, Size: req.Size,
		ClientID: req.ClientID, PostOnly: o.postOnly,
	})
}

// OnSnapshot 盘口穿过挂单价的订单按挂单价全部成交（视为被动成交）。
func (p *PaperVenue) OnSnapshot(snap market.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.best[snap.Symbol] = [2]float64{snap.BestBid, snap.BestAsk}
	for _, o := range p.sorted(snap.Symbol) {
		crossed := (o.side == order.SideBuy && snap.BestAsk > 0 && snap.BestAsk <= o.price) ||
			(o.side == order.SideSell && snap.BestBid > 0 && snap.BestBid >= o.price)
		if crossed {
			p.fill(o, o.qty-o.filled)
		}
	}
}

// OnTrade 打到或穿过挂单价的成交按量成交挂单。
func (p *PaperVenue) OnTrade(tr Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	remaining := tr.Qty
	for _, o := range p.sorted(tr.Symbol) {
		if remaining <= 0 {
			return
		}
		if o.side.BookSide() != tr.RestingSide {
			continue
		}
		hit := (o.side == order.SideBuy && tr.Price <= o.price) || (o.side == order.SideSell && tr.Price >= o.price)
		if !hit {
			continue
		}
		qty := o.qty - o.filled
		if qty > remaining {
			qty = remaining
		}
		remaining -= qty
		p.fill(o, qty)
	}
}

// Statistics 统计信息
func (p *PaperVenue) Statistics() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]int{
		"place_order_count":  p.placeCount,
		"cancel_order_count": p.cancelCount,
		"open_orders":        len(p.orders),
		"dropped_events":     p.dropped,
	}
}

func (p *PaperVenue) fill(o *paperOrder, qty float64) {
	if qty <= 0 {
		return
	}
	o.filled += qty
	if o.filled >= o.qty {
		delete(p.orders, o.id)
	}
	p.emit(Event{
		Kind: EventFill, Symbol: o.symbol, OrderID: o.id, Side: o.side,
		Price: o.price, FilledQty: qty,
	})
}

func (p *PaperVenue) wouldCross(o *paperOrder) bool {
	best, ok := p.best[o.symbol]
	if !ok {
		return false
	}
	if o.side == order.SideBuy {
		return best[1] > 0 && o.price >= best[1]
	}
	return best[0] > 0 && o.price <= best[0]
}

func (p *PaperVenue) find(id, clientID string) *paperOrder {
	if o, ok := p.orders[id]; ok {
		return o
	}
	if clientID == "" {
		return nil
	}
	for _, o := range p.orders {
		if o.clientID == clientID {
			return o
		}
	}
	return nil
}

// sorted 按下单顺序返回该交易对的挂单。
func (p *PaperVenue) sorted(symbol string) []*paperOrder {
	out := make([]*paperOrder, 0, len(p.orders))
	for _, o := range p.orders {
		if o.symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// emit 通道满时丢弃并计数，不阻塞调用方。
func (p *PaperVenue) emit(ev Event) {
	ev.Time = p.now()
	select {
	case p.events <- ev:
	default:
		p.dropped++
	}
}
