package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolConstraints 描述交易对的步长与名义限制。
type SymbolConstraints struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
func (c SymbolConstraints) Validate(price, qty float64) error {
	if c.TickSize > 0 && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %.8f not aligned to tickSize %.8f", price, c.TickSize)
	}
	if c.StepSize > 0 && !isMultiple(qty, c.StepSize) {
		return fmt.Errorf("qty %.8f not aligned to stepSize %.8f", qty, c.StepSize)
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return fmt.Errorf("qty %.8f < minQty %.8f", qty, c.MinQty)
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		return fmt.Errorf("qty %.8f > maxQty %.8f", qty, c.MaxQty)
	}
	if c.MinNotional > 0 && price*qty < c.MinNotional {
		return fmt.Errorf("notional %.8f < minNotional %.8f", price*qty, c.MinNotional)
	}
	return nil
}

// RoundPrice 按 tick 取整且不更激进：买单向下，卖单向上。
func (c SymbolConstraints) RoundPrice(price float64, side Side) float64 {
	if c.TickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(c.TickSize)
	steps := p.Div(tick)
	if side == SideBuy {
		steps = steps.Floor()
	} else {
		steps = steps.Ceil()
	}
	out, _ := steps.Mul(tick).Float64()
	return out
}

// RoundQty 按 step 向下取整，超过 MaxQty 时截断。
func (c SymbolConstraints) RoundQty(qty float64) float64 {
	if c.MaxQty > 0 && qty > c.MaxQty {
		qty = c.MaxQty
	}
	if c.StepSize <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	step := decimal.NewFromFloat(c.StepSize)
	out, _ := q.Div(step).Floor().Mul(step).Float64()
	return out
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	return decimal.NewFromFloat(value).Mod(decimal.NewFromFloat(step)).IsZero()
}
