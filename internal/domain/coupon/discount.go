package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discount computes how much c takes off itemsPrice. It does not look at the
// validity window or usage counters; run Check first.
//
// The result is rounded to cents and never exceeds itemsPrice.
func Discount(c *Coupon, itemsPrice decimal.Decimal) (decimal.Decimal, error) {
	if itemsPrice.LessThan(c.MinimumPurchaseAmount) {
		return decimal.Zero, &InvalidError{Code: c.Code, Reason: ReasonMinimumPurchaseNotMet}
	}

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		amount = itemsPrice.Mul(c.DiscountValue).Div(hundred)
	case DiscountFixedAmount:
		amount = c.DiscountValue
	default:
		return decimal.Zero, errors.Errorf("unsupported discount type: %q", c.DiscountType)
	}

	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return decimal.Min(amount, itemsPrice).Round(2), nil
}
