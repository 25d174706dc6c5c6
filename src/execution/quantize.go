package execution

import (
	"github.com/shopspring/decimal"

	"gridexecutor/src/instrument"
)

// Quantize returns the largest multiple of step not greater than x. A zero or
// negative step leaves x unchanged.
func Quantize(x, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}

func clamp(x, lo, hi decimal.Decimal) decimal.Decimal {
	if lo.IsPositive() && x.LessThan(lo) {
		return lo
	}
	if hi.IsPositive() && x.GreaterThan(hi) {
		return hi
	}
	return x
}

// quantizePrice snaps a price to the tick size and the instrument's price bounds.
func quantizePrice(price float64, info instrument.Info) decimal.Decimal {
	return clamp(Quantize(decimal.NewFromFloat(price), info.TickSize), info.MinPrice, info.MaxPrice)
}

// quantizeQty snaps a quantity to the quantity step and clamps it to the order limits.
// Zero stays zero so a blocked size is never bumped up to the minimum.
func quantizeQty(qty decimal.Decimal, info instrument.Info) decimal.Decimal {
	if !qty.IsPositive() {
		return decimal.Zero
	}
	return clamp(Quantize(qty, info.QtyStep), info.MinOrderQty, info.MaxOrderQty)
}
