package order_manager

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quote-engine/gateway"
	"quote-engine/infrastructure/logger"
	"quote-engine/market"
	"quote-engine/monitor"
	"quote-engine/order"
)

// Config 单个交易对的执行参数。
type Config struct {
	Symbol              string
	MaxActivePerSide    int
	MaxCreatePerSec     int
	MaxCancelPerSec     int
	RateWindow          time.Duration
	MinTimeInBook       time.Duration
	ReplaceThresholdBps float64
	FeeBps              float64
	SlippageBps         float64
	PriceToleranceBps   float64       // 期望价与挂单价差异在此范围内视为一致
	StaleTTL            time.Duration // 0 表示不按年龄刷新
	StaleDriftBps       float64       // 0 表示不按偏离刷新
	PendingTimeout      time.Duration // 未拿到交易所 ID 的 Pending 单超时丢弃
	PostOnly            bool
	Constraints         order.SymbolConstraints
}

// DefaultConfig 默认执行参数。
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:              symbol,
		MaxActivePerSide:    10,
		MaxCreatePerSec:     10,
		MaxCancelPerSec:     10,
		RateWindow:          time.Second,
		MinTimeInBook:       500 * time.Millisecond,
		ReplaceThresholdBps: 3,
		FeeBps:              1,
		SlippageBps:         0.5,
		PriceToleranceBps:   0.5,
		StaleTTL:            30 * time.Second,
		StaleDriftBps:       25,
		PendingTimeout:      5 * time.Second,
		PostOnly:            true,
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.MaxActivePerSide <= 0 {
		cfg.MaxActivePerSide = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	if cfg.MinTimeInBook < 0 {
		cfg.MinTimeInBook = 0
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 5 * time.Second
	}
	return cfg
}

// TrackedOrder 管理器内部跟踪的订单。
type TrackedOrder struct {
	ID          string // 客户端订单 ID
	VenueID     string
	Symbol      string
	Side        order.Side
	Price       float64
	Size        float64
	Filled      float64
	Status      order.Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	AheadVolume float64
	LastError   string
}

// Remaining 剩余未成交数量。
func (o TrackedOrder) Remaining() float64 {
	r := o.Size - o.Filled
	if r < 0 {
		return 0
	}
	return r
}

// Manager 单交易对订单管理：限频、预算、最短挂单时间、改单门槛、队列位置。
// 所有检查与状态变更在同一把锁内完成。
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	venue    gateway.Venue
	sm       *order.StateMachine
	rec      monitor.Recorder
	log      *logger.Logger
	now      func() time.Time
	orders   map[string]*TrackedOrder
	byVenue  map[string]string
	creates  *RateWindow
	cancels  *RateWindow
	lastSnap *market.Snapshot
	lastMid  float64
}

// NewManager 创建订单管理器，rec/log 可为 nil。
func NewManager(cfg Config, venue gateway.Venue, rec monitor.Recorder, log *logger.Logger) *Manager {
	cfg = normalizeConfig(cfg)
	return &Manager{
		cfg:     cfg,
		venue:   venue,
		sm:      order.NewStateMachine(),
		rec:     monitor.OrNop(rec),
		log:     logger.OrNop(log),
		now:     time.Now,
		orders:  make(map[string]*TrackedOrder),
		byVenue: make(map[string]string),
		creates: NewRateWindow(cfg.MaxCreatePerSec, cfg.RateWindow),
		cancels: NewRateWindow(cfg.MaxCancelPerSec, cfg.RateWindow),
	}
}

// SetClock 替换时间源（测试用）。
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now != nil {
		m.now = now
	}
}

// UpdateConfig 热更新参数，已跟踪订单与限频历史保留。
func (m *Manager) UpdateConfig(cfg Config) {
	cfg = normalizeConfig(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg.Symbol = m.cfg.Symbol
	m.cfg = cfg
	m.creates.SetLimit(cfg.MaxCreatePerSec)
	m.cancels.SetLimit(cfg.MaxCancelPerSec)
}

// Config 当前参数。
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Place 下新单，返回客户端订单 ID。
func (m *Manager) Place(ctx context.Context, side order.Side, price, size float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeLocked(ctx, side, price, size)
}

// Cancel 撤单；force 只绕过最短挂单时间，限频始终生效。
func (m *Manager) Cancel(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(ctx, id, force)
}

// Replace 改价/改量，成功返回新订单 ID。
func (m *Manager) Replace(ctx context.Context, id string, newPrice, newSize float64, force bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceLocked(ctx, id, newPrice, newSize, force)
}

// CancelAll 撤掉全部活动订单，返回成功撤单数量。
// 撤单限频耗尽时停止，剩余订单留给下一次调用。
func (m *Manager) CancelAll(ctx context.Context, force bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	n := 0
	for _, o := range m.sortedActive("") {
		if err := m.cancelLocked(ctx, o.ID, force); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrRateLimitExceeded) {
				break
			}
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (m *Manager) placeLocked(ctx context.Context, side order.Side, price, size float64) (string, error) {
	now := m.now()
	labels := m.labels(side)
	if side != order.SideBuy && side != order.SideSell {
		return "", fmt.Errorf("%w: side %q", ErrInvalidOrder, side)
	}
	price = m.cfg.Constraints.RoundPrice(price, side)
	size = m.cfg.Constraints.RoundQty(size)
	if price <= 0 || size <= 0 || math.IsNaN(price) || math.IsNaN(size) {
		return "", fmt.Errorf("%w: price=%.8f size=%.8f", ErrInvalidOrder, price, size)
	}
	if err := m.cfg.Constraints.Validate(price, size); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if m.activeCountLocked(side) >= m.cfg.MaxActivePerSide {
		m.rec.Inc(monitor.MetricBudgetRejects, labels)
		return "", ErrBudgetExceeded
	}
	if !m.creates.Allow(now) {
		m.rec.Inc(monitor.MetricRateLimitRejects, map[string]string{"symbol": m.cfg.Symbol, "op": "create"})
		return "", ErrRateLimitExceeded
	}
	m.creates.Record(now)

	o := &TrackedOrder{
		ID:          uuid.NewString(),
		Symbol:      m.cfg.Symbol,
		Side:        side,
		Price:       price,
		Size:        size,
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		AheadVolume: m.aheadAtPlacement(side, price),
	}
	m.orders[o.ID] = o

	venueID, err := m.venue.Place(ctx, gateway.PlaceRequest{
		Symbol:   m.cfg.Symbol,
		Side:     side,
		Price:    price,
		Size:     size,
		ClientID: o.ID,
		PostOnly: m.cfg.PostOnly,
	})
	if err != nil {
		o.LastError = err.Error()
		m.rec.Inc(monitor.MetricVenueErrors, map[string]string{"symbol": m.cfg.Symbol, "op": "place"})
		m.log.LogError(err, map[string]interface{}{"symbol": m.cfg.Symbol, "op": "place", "client_id": o.ID})
		return o.ID, &VenueError{Op: "place", OrderID: o.ID, Err: err}
	}
	m.bindVenueID(o, venueID)
	m.rec.Inc(monitor.MetricOrdersPlaced, labels)
	m.log.LogOrder("place", o.ID, map[string]interface{}{
		"symbol": m.cfg.Symbol, "side": string(side), "price": price, "size": size,
		"venue_id": venueID, "ahead": o.AheadVolume,
	})
	return o.ID, nil
}

func (m *Manager) cancelLocked(ctx context.Context, id string, force bool) error {
	o, ok := m.lookup(id)
	if !ok {
		return ErrUnknownOrder
	}
	if !order.CanCancel(o.Status) {
		return fmt.Errorf("%w: cancel in %s", ErrInvalidState, o.Status)
	}
	now := m.now()
	if !force && now.Sub(o.CreatedAt) < m.cfg.MinTimeInBook {
		return ErrMinTimeInBook
	}
	if !m.cancels.Allow(now) {
		m.rec.Inc(monitor.MetricRateLimitRejects, map[string]string{"symbol": m.cfg.Symbol, "op": "cancel"})
		return ErrRateLimitExceeded
	}
	m.cancels.Record(now)

	if o.VenueID != "" || o.Status != order.StatusPending {
		err := m.venue.Cancel(ctx, gateway.CancelRequest{
			Symbol:   m.cfg.Symbol,
			OrderID:  o.VenueID,
			ClientID: o.ID,
			Force:    force,
		})
		if err != nil {
			o.LastError = err.Error()
			m.rec.Inc(monitor.MetricVenueErrors, map[string]string{"symbol": m.cfg.Symbol, "op": "cancel"})
			return &VenueError{Op: "cancel", OrderID: o.ID, Err: err}
		}
	}
	m.finish(o, order.StatusCanceled, now)
	m.rec.Inc(monitor.MetricOrdersCanceled, map[string]string{"symbol": m.cfg.Symbol, "side": string(o.Side), "force": boolLabel(force)})
	m.log.LogOrder("cancel", o.ID, map[string]interface{}{"symbol": m.cfg.Symbol, "side": string(o.Side), "force": force})
	return nil
}

// ExpectedEdgeBps 改单的预期收益：向 mid 方向的改善减去手续费与滑点。
func ExpectedEdgeBps(side order.Side, oldPrice, newPrice, feeBps, slippageBps float64) float64 {
	return ImprovementBps(side, oldPrice, newPrice) - feeBps - slippageBps
}

// ImprovementBps 以旧价为基准，买单上移/卖单下移为正。
func ImprovementBps(side order.Side, oldPrice, newPrice float64) float64 {
	if oldPrice <= 0 {
		return 0
	}
	diff := newPrice - oldPrice
	if side == order.SideSell {
		diff = -diff
	}
	return diff / oldPrice * 1e4
}

func (m *Manager) replaceLocked(ctx context.Context, id string, newPrice, newSize float64, force bool) (string, error) {
	o, ok := m.lookup(id)
	if !ok {
		return "", ErrUnknownOrder
	}
	if !order.CanReplace(o.Status) {
		return "", fmt.Errorf("%w: replace in %s", ErrInvalidState, o.Status)
	}
	newPrice = m.cfg.Constraints.RoundPrice(newPrice, o.Side)
	newSize = m.cfg.Constraints.RoundQty(newSize)
	if newPrice <= 0 || newSize <= 0 {
		return "", fmt.Errorf("%w: price=%.8f size=%.8f", ErrInvalidOrder, newPrice, newSize)
	}
	now := m.now()
	outcome := map[string]string{"symbol": m.cfg.Symbol, "side": string(o.Side)}
	if !force {
		if now.Sub(o.CreatedAt) < m.cfg.MinTimeInBook {
			outcome["outcome"] = "min_time_in_book"
			m.rec.Inc(monitor.MetricReplaceOutcomes, outcome)
			return "", ErrMinTimeInBook
		}
		edge := ExpectedEdgeBps(o.Side, o.Price, newPrice, m.cfg.FeeBps, m.cfg.SlippageBps)
		if edge < m.cfg.ReplaceThresholdBps {
			outcome["outcome"] = "rejected"
			m.rec.Inc(monitor.MetricReplaceOutcomes, outcome)
			return "", fmt.Errorf("%w: edge %.2f bps < threshold %.2f bps", ErrReplaceRejected, edge, m.cfg.ReplaceThresholdBps)
		}
	}
	if !m.creates.Allow(now) || !m.cancels.Allow(now) {
		m.rec.Inc(monitor.MetricRateLimitRejects, map[string]string{"symbol": m.cfg.Symbol, "op": "replace"})
		return "", ErrRateLimitExceeded
	}
	m.creates.Record(now)
	m.cancels.Record(now)

	clientID := uuid.NewString()
	venueID, err := m.venue.Replace(ctx, gateway.ReplaceRequest{
		Symbol:   m.cfg.Symbol,
		OrderID:  o.VenueID,
		Side:     o.Side,
		Price:    newPrice,
		Size:     newSize,
		ClientID: clientID,
		Force:    force,
	})
	if err != nil {
		o.LastError = err.Error()
		m.rec.Inc(monitor.MetricVenueErrors, map[string]string{"symbol": m.cfg.Symbol, "op": "replace"})
		return "", &VenueError{Op: "replace", OrderID: o.ID, Err: err}
	}
	m.finish(o, order.StatusReplaced, now)
	next := &TrackedOrder{
		ID:          clientID,
		Symbol:      m.cfg.Symbol,
		Side:        o.Side,
		Price:       newPrice,
		Size:        newSize,
		Status:      order.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		AheadVolume: m.aheadAtPlacement(o.Side, newPrice),
	}
	m.orders[next.ID] = next
	m.bindVenueID(next, venueID)
	outcome["outcome"] = "accepted"
	m.rec.Inc(monitor.MetricReplaceOutcomes, outcome)
	m.log.LogOrder("replace", next.ID, map[string]interface{}{
		"symbol": m.cfg.Symbol, "side": string(o.Side), "old_id": o.ID,
		"old_price": o.Price, "price": newPrice, "size": newSize, "force": force,
	})
	return next.ID, nil
}

// OnAck 交易所确认：Pending -> Open。id 可为客户端或交易所 ID。
func (m *Manager) OnAck(id, venueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookup(id)
	if !ok {
		return ErrUnknownOrder
	}
	if venueID != "" && o.VenueID == "" {
		m.bindVenueID(o, venueID)
	}
	if o.Status != order.StatusPending {
		return nil
	}
	return m.transition(o, order.StatusOpen, m.now())
}

// OnReject 交易所拒单。
func (m *Manager) OnReject(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookup(id)
	if !ok {
		return ErrUnknownOrder
	}
	o.LastError = reason
	if err := m.sm.ValidateTransition(o.Status, order.StatusRejected); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	m.finish(o, order.StatusRejected, m.now())
	m.log.LogOrder("reject", o.ID, map[string]interface{}{"symbol": m.cfg.Symbol, "side": string(o.Side), "reason": reason})
	return nil
}

// OnFill 成交回报，返回更新后的订单快照。
func (m *Manager) OnFill(id string, qty, price float64) (TrackedOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookup(id)
	if !ok {
		return TrackedOrder{}, ErrUnknownOrder
	}
	if qty <= 0 {
		return *o, fmt.Errorf("%w: fill qty %.8f", ErrInvalidOrder, qty)
	}
	now := m.now()
	o.Filled += qty
	o.AheadVolume = 0
	next := order.StatusPartiallyFilled
	if o.Filled >= o.Size-fillEpsilon(o.Size) {
		o.Filled = o.Size
		next = order.StatusFilled
	}
	if err := m.sm.ValidateTransition(o.Status, next); err != nil {
		return *o, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if next == order.StatusFilled {
		m.finish(o, next, now)
	} else {
		o.Status = next
		o.UpdatedAt = now
	}
	m.log.LogOrder("fill", o.ID, map[string]interface{}{
		"symbol": m.cfg.Symbol, "side": string(o.Side), "qty": qty, "price": price, "status": string(o.Status),
	})
	return *o, nil
}

// OnCanceled 交易所撤单确认（含外部撤单）。
func (m *Manager) OnCanceled(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookup(id)
	if !ok {
		return ErrUnknownOrder
	}
	if err := m.sm.ValidateTransition(o.Status, order.StatusCanceled); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	m.finish(o, order.StatusCanceled, m.now())
	return nil
}

// Orders 按创建时间排序的活动订单快照。
func (m *Manager) Orders() []TrackedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := m.sortedActive("")
	out := make([]TrackedOrder, 0, len(active))
	for _, o := range active {
		out = append(out, *o)
	}
	return out
}

// Get 查询单个订单。
func (m *Manager) Get(id string) (TrackedOrder, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.lookup(id)
	if !ok {
		return TrackedOrder{}, false
	}
	return *o, true
}

// ActiveCount 某侧 Pending/Open/PartiallyFilled 订单数。
func (m *Manager) ActiveCount(side order.Side) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCountLocked(side)
}

// ActiveTotal 两侧活动订单总数。
func (m *Manager) ActiveTotal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sortedActive(""))
}

func (m *Manager) activeCountLocked(side order.Side) int {
	n := 0
	for _, o := range m.orders {
		if o.Side == side && order.IsActiveState(o.Status) {
			n++
		}
	}
	return n
}

// sortedActive side 为空表示两侧。
func (m *Manager) sortedActive(side order.Side) []*TrackedOrder {
	out := make([]*TrackedOrder, 0, len(m.orders))
	for _, o := range m.orders {
		if !order.IsActiveState(o.Status) {
			continue
		}
		if side != "" && o.Side != side {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) lookup(id string) (*TrackedOrder, bool) {
	if o, ok := m.orders[id]; ok {
		return o, true
	}
	if cid, ok := m.byVenue[id]; ok {
		o, ok := m.orders[cid]
		return o, ok
	}
	return nil, false
}

func (m *Manager) bindVenueID(o *TrackedOrder, venueID string) {
	if venueID == "" {
		return
	}
	o.VenueID = venueID
	m.byVenue[venueID] = o.ID
}

func (m *Manager) transition(o *TrackedOrder, to order.Status, now time.Time) error {
	if err := m.sm.ValidateTransition(o.Status, to); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// finish 终态订单从跟踪表中移除。
func (m *Manager) finish(o *TrackedOrder, st order.Status, now time.Time) {
	o.Status = st
	o.UpdatedAt = now
	delete(m.orders, o.ID)
	if o.VenueID != "" {
		delete(m.byVenue, o.VenueID)
	}
}

func (m *Manager) labels(side order.Side) map[string]string {
	return map[string]string{"symbol": m.cfg.Symbol, "side": string(side)}
}

func (m *Manager) logDebug(msg string, fields ...zap.Field) {
	m.log.Debug(msg, append(fields, zap.String("symbol", m.cfg.Symbol))...)
}

func fillEpsilon(size float64) float64 {
	return math.Max(size*1e-9, 1e-12)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
