package inventory

import (
	"math"
	"sync"
)

// Tracker 维护净仓位、加权平均成本与已实现盈亏。
type Tracker struct {
	mu       sync.RWMutex
	net      float64
	cost     float64
	realized float64
	fees     float64
	volume   float64
}

// Update 根据成交数量调整仓位，deltaQty 买入为正、卖出为负。
// 减仓部分按平均成本结算已实现盈亏，反手后剩余部分以成交价为新成本。
func (t *Tracker) Update(deltaQty float64, price float64) {
	if deltaQty == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume += math.Abs(deltaQty) * price

	if t.net == 0 || sameSign(t.net, deltaQty) {
		totalValue := t.cost*t.net + price*deltaQty
		t.net += deltaQty
		t.cost = totalValue / t.net
		return
	}

	closing := math.Min(math.Abs(deltaQty), math.Abs(t.net))
	if t.net > 0 {
		t.realized += (price - t.cost) * closing
	} else {
		t.realized += (t.cost - price) * closing
	}
	t.net += deltaQty
	switch {
	case math.Abs(t.net) < 1e-12:
		t.net = 0
		t.cost = 0
	case !sameSign(t.net, -deltaQty):
		// 反手
		t.cost = price
	}
}

// AddFee 记录手续费（正数为支出）。
func (t *Tracker) AddFee(fee float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fees += fee
}

func (t *Tracker) NetExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.net
}

func (t *Tracker) AvgCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cost
}

// Realized 已实现盈亏（扣除手续费）。
func (t *Tracker) Realized() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.realized - t.fees
}

// Volume 累计成交额。
func (t *Tracker) Volume() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.volume
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
