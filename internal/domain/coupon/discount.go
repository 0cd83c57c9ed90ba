package coupon

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Discount holds the computed reduction for an eligible coupon.
type Discount struct {
	// Amount is the monetary reduction, rounded to two decimal places.
	Amount decimal.Decimal
	// Deferred is set for discount types whose amount is resolved by the
	// caller (buyXgetY). Amount is zero in that case.
	Deferred bool
	// Rule echoes the coupon value for deferred discounts so the caller can
	// apply its own rule.
	Rule decimal.Decimal
}

// ComputeDiscount calculates the reduction c grants on the given cart. It is
// pure and never returns an amount below zero or above the cart total.
// Rounding happens once, after the final clamp.
func ComputeDiscount(c *Coupon, rc RedemptionContext) Discount {
	switch c.DiscountType {
	case DiscountPercentage:
		return Discount{Amount: applyPercentage(c, rc.CartTotal)}
	case DiscountFixed:
		return Discount{Amount: finalize(c.Value, rc.CartTotal)}
	case DiscountShipping:
		return Discount{Amount: finalize(rc.ShippingCost, rc.CartTotal)}
	case DiscountBuyXGetY:
		return Discount{Amount: zero, Deferred: true, Rule: c.Value}
	default:
		return Discount{Amount: zero}
	}
}

func applyPercentage(c *Coupon, total decimal.Decimal) decimal.Decimal {
	amount := total.Mul(c.Value).Div(hundred)
	if c.MaxDiscount.Valid {
		amount = decimal.Min(amount, c.MaxDiscount.Decimal)
	}
	return finalize(amount, total)
}

// finalize clamps amount to [0, total] and rounds it to cents. Rounding up
// can never push the result past the cart total.
func finalize(amount, total decimal.Decimal) decimal.Decimal {
	amount = floorAtZero(decimal.Min(amount, total)).Round(2)
	if amount.GreaterThan(total) {
		amount = floorAtZero(total.Truncate(2))
	}
	return amount
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
