package inventory

// Valuation 基于当前 mid 价计算未实现盈亏。
func (t *Tracker) Valuation(mid float64) (net float64, pnl float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	net = t.net
	if net == 0 || mid <= 0 {
		return net, 0
	}
	pnl = (mid - t.cost) * t.net
	return
}

// TotalPnL 已实现 + 未实现。
func (t *Tracker) TotalPnL(mid float64) float64 {
	_, unrealized := t.Valuation(mid)
	return t.Realized() + unrealized
}
