package order_manager

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"quote-engine/monitor"
	"quote-engine/order"
	"quote-engine/quote"
)

// 对账动作类型
const (
	OpPlace   = "place"
	OpCancel  = "cancel"
	OpReplace = "replace"
	OpKeep    = "keep"
)

// Action 对账产生的一次操作及结果。
type Action struct {
	Op      string
	Side    order.Side
	OrderID string
	Price   float64
	Size    float64
	Reason  string
	Err     error
}

// ReconcileResult 一次对账的全部动作。
type ReconcileResult struct {
	Actions []Action
}

// Count 统计成功的某类动作。
func (r ReconcileResult) Count(op string) int {
	n := 0
	for _, a := range r.Actions {
		if a.Op == op && a.Err == nil {
			n++
		}
	}
	return n
}

// Rejected 统计被可恢复原因拒绝的动作。
func (r ReconcileResult) Rejected() int {
	n := 0
	for _, a := range r.Actions {
		if a.Err != nil && IsRecoverable(a.Err) {
			n++
		}
	}
	return n
}

// Err 汇总不可恢复的错误（交易所错误等）。
func (r ReconcileResult) Err() error {
	var errs []error
	for _, a := range r.Actions {
		if a.Err != nil && !IsRecoverable(a.Err) {
			errs = append(errs, a.Err)
		}
	}
	return errors.Join(errs...)
}

// Reconcile 把期望报价与在簿订单做差分：缺失则下单，向 mid 改善则改单，
// 后撤或缩量则撤单重挂，多余订单撤掉。
func (m *Manager) Reconcile(ctx context.Context, q quote.Quote, mid float64) ReconcileResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mid > 0 {
		m.lastMid = mid
	}
	var res ReconcileResult
	m.reconcileSide(ctx, order.SideBuy, q.BidPrice, q.BidSize, mid, &res)
	m.reconcileSide(ctx, order.SideSell, q.AskPrice, q.AskSize, mid, &res)
	return res
}

// reconcileSide 对某一侧做差分更新
func (m *Manager) reconcileSide(ctx context.Context, side order.Side, price, size, mid float64, res *ReconcileResult) {
	live := m.sortedActive(side)

	// 该侧不报价：撤掉全部
	if price <= 0 || size <= 0 || crossesMid(side, price, mid) {
		for _, o := range live {
			err := m.cancelLocked(ctx, o.ID, false)
			res.Actions = append(res.Actions, Action{Op: OpCancel, Side: side, OrderID: o.ID, Price: o.Price, Size: o.Size, Reason: "side_off", Err: err})
		}
		return
	}
	price = m.cfg.Constraints.RoundPrice(price, side)
	size = m.cfg.Constraints.RoundQty(size)

	if len(live) == 0 {
		id, err := m.placeLocked(ctx, side, price, size)
		res.Actions = append(res.Actions, Action{Op: OpPlace, Side: side, OrderID: id, Price: price, Size: size, Reason: "missing", Err: err})
		return
	}

	// 保留离目标最近的一个，其余撤掉
	primary := live[0]
	for _, o := range live[1:] {
		if math.Abs(o.Price-price) < math.Abs(primary.Price-price) {
			primary = o
		}
	}
	for _, o := range live {
		if o == primary {
			continue
		}
		err := m.cancelLocked(ctx, o.ID, false)
		res.Actions = append(res.Actions, Action{Op: OpCancel, Side: side, OrderID: o.ID, Price: o.Price, Size: o.Size, Reason: "extra", Err: err})
	}

	if primary.Status == order.StatusPending {
		res.Actions = append(res.Actions, Action{Op: OpKeep, Side: side, OrderID: primary.ID, Price: primary.Price, Size: primary.Size, Reason: "pending"})
		return
	}
	driftBps := math.Abs(primary.Price-price) / primary.Price * 1e4
	shrink := primary.Remaining()-size > m.sizeTolerance()
	if driftBps <= m.cfg.PriceToleranceBps && !shrink {
		res.Actions = append(res.Actions, Action{Op: OpKeep, Side: side, OrderID: primary.ID, Price: primary.Price, Size: primary.Size, Reason: "in_tolerance"})
		return
	}

	improvement := ImprovementBps(side, primary.Price, price)
	if improvement > 0 && !shrink {
		id, err := m.replaceLocked(ctx, primary.ID, price, size, false)
		if err != nil {
			id = primary.ID
		}
		res.Actions = append(res.Actions, Action{Op: OpReplace, Side: side, OrderID: id, Price: price, Size: size, Reason: "improve", Err: err})
		return
	}

	// 后撤或缩量：先撤再挂，撤单失败则保留原单
	err := m.cancelLocked(ctx, primary.ID, false)
	res.Actions = append(res.Actions, Action{Op: OpCancel, Side: side, OrderID: primary.ID, Price: primary.Price, Size: primary.Size, Reason: "retreat", Err: err})
	if err != nil {
		return
	}
	id, err := m.placeLocked(ctx, side, price, size)
	res.Actions = append(res.Actions, Action{Op: OpPlace, Side: side, OrderID: id, Price: price, Size: size, Reason: "retreat", Err: err})
}

// RefreshStale 撤掉超龄或偏离 mid 过远的订单，并处理超时未确认的 Pending 单：
// 没有交易所 ID 的丢弃；已有交易所 ID 的说明下单已被接受、只是回报丢失，按 Open 继续管理。
// mid<=0 时使用最近一次盘口 mid。
func (m *Manager) RefreshStale(ctx context.Context, now time.Time, mid float64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mid <= 0 {
		mid = m.lastMid
	}
	var errs []error
	refreshed := 0
	for _, o := range m.sortedActive("") {
		age := now.Sub(o.CreatedAt)
		if o.Status == order.StatusPending {
			if age < m.cfg.PendingTimeout {
				continue
			}
			if o.VenueID == "" {
				m.finish(o, order.StatusRejected, now)
				m.logDebug("pending order timed out", zap.String("order_id", o.ID))
				refreshed++
				continue
			}
			if err := m.transition(o, order.StatusOpen, now); err != nil {
				errs = append(errs, err)
				continue
			}
			refreshed++
			m.rec.Inc(monitor.MetricStaleRefreshes, map[string]string{"symbol": m.cfg.Symbol, "reason": "missing_ack"})
			m.log.Warn("ack missing, treating order as open",
				zap.String("symbol", m.cfg.Symbol),
				zap.String("order_id", o.ID),
				zap.String("venue_id", o.VenueID))
			continue
		}
		reason := ""
		switch {
		case m.cfg.StaleTTL > 0 && age >= m.cfg.StaleTTL:
			reason = "ttl"
		case m.cfg.StaleDriftBps > 0 && mid > 0 && math.Abs(o.Price-mid)/mid*1e4 >= m.cfg.StaleDriftBps:
			reason = "drift"
		default:
			continue
		}
		if err := m.cancelLocked(ctx, o.ID, false); err != nil {
			if !IsRecoverable(err) {
				errs = append(errs, err)
			}
			continue
		}
		refreshed++
		m.rec.Inc(monitor.MetricStaleRefreshes, map[string]string{"symbol": m.cfg.Symbol, "reason": reason})
	}
	return refreshed, errors.Join(errs...)
}

// GetStatistics 获取统计信息
func (m *Manager) GetStatistics() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	return map[string]interface{}{
		"active_buy_orders":  m.activeCountLocked(order.SideBuy),
		"active_sell_orders": m.activeCountLocked(order.SideSell),
		"creates_in_window":  m.creates.Count(now),
		"cancels_in_window":  m.cancels.Count(now),
		"last_mid_price":     m.lastMid,
	}
}

func (m *Manager) sizeTolerance() float64 {
	if m.cfg.Constraints.StepSize > 0 {
		return m.cfg.Constraints.StepSize / 2
	}
	return 1e-12
}

// crossesMid 买价不应高于 mid，卖价不应低于 mid。
func crossesMid(side order.Side, price, mid float64) bool {
	if mid <= 0 {
		return false
	}
	if side == order.SideBuy {
		return price >= mid
	}
	return price <= mid
}
