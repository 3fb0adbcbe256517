// Package pricing computes order totals from trusted line items.
//
// Everything here is pure: the same items, coupon, clock reading and policy
// always produce the same breakdown.
package pricing

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/coupon"
)

// ErrEmptyCart is returned when there is nothing to price.
var ErrEmptyCart = errors.New("cart is empty")

// Item is a priced cart line. UnitPrice must come from the catalog.
type Item struct {
	ProductID string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Breakdown holds every monetary figure of an order, rounded to cents.
type Breakdown struct {
	ItemsPrice           decimal.Decimal
	DiscountAmount       decimal.Decimal
	DiscountedItemsPrice decimal.Decimal
	TaxPrice             decimal.Decimal
	ShippingPrice        decimal.Decimal
	TotalPrice           decimal.Decimal
	Currency             string
}

// Policy supplies tax and shipping for a discounted subtotal.
type Policy interface {
	Tax(discountedItemsPrice decimal.Decimal) decimal.Decimal
	Shipping(discountedItemsPrice decimal.Decimal) decimal.Decimal
	Currency() string
}

// ComputeTotals prices items, applying c when it is non-nil.
//
// An unusable coupon fails the whole computation with *coupon.InvalidError;
// it is never silently dropped.
func ComputeTotals(items []Item, c *coupon.Coupon, now time.Time, policy Policy) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, ErrEmptyCart
	}

	itemsPrice := decimal.Zero
	for _, it := range items {
		itemsPrice = itemsPrice.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	itemsPrice = itemsPrice.Round(2)

	discount := decimal.Zero
	if c != nil {
		if err := c.Validate(now); err != nil {
			return Breakdown{}, err
		}
		d, err := coupon.Discount(c, itemsPrice)
		if err != nil {
			return Breakdown{}, err
		}
		discount = d
	}

	discounted := itemsPrice.Sub(discount).Round(2)
	tax := policy.Tax(discounted).Round(2)
	shipping := policy.Shipping(discounted).Round(2)

	return Breakdown{
		ItemsPrice:           itemsPrice,
		DiscountAmount:       discount,
		DiscountedItemsPrice: discounted,
		TaxPrice:             tax,
		ShippingPrice:        shipping,
		TotalPrice:           discounted.Add(tax).Add(shipping).Round(2),
		Currency:             policy.Currency(),
	}, nil
}
