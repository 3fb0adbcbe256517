package pricing

import "github.com/shopspring/decimal"

// FlatPolicy charges a single tax rate and a flat shipping fee that is waived
// above a threshold.
type FlatPolicy struct {
	CurrencyCode string
	// TaxRate is a fraction, 0.15 for 15%.
	TaxRate     decimal.Decimal
	ShippingFee decimal.Decimal
	// FreeShippingThreshold waives shipping for subtotals strictly above it.
	// Zero disables free shipping.
	FreeShippingThreshold decimal.Decimal
}

var _ Policy = FlatPolicy{}

// DefaultPolicy is the storefront's historical policy: 15% tax, $10 shipping,
// free shipping over $100.
func DefaultPolicy() FlatPolicy {
	return FlatPolicy{
		CurrencyCode:          "USD",
		TaxRate:               decimal.RequireFromString("0.15"),
		ShippingFee:           decimal.NewFromInt(10),
		FreeShippingThreshold: decimal.NewFromInt(100),
	}
}

func (p FlatPolicy) Tax(discountedItemsPrice decimal.Decimal) decimal.Decimal {
	return discountedItemsPrice.Mul(p.TaxRate).Round(2)
}

func (p FlatPolicy) Shipping(discountedItemsPrice decimal.Decimal) decimal.Decimal {
	if p.FreeShippingThreshold.IsPositive() && discountedItemsPrice.GreaterThan(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.ShippingFee
}

func (p FlatPolicy) Currency() string {
	return p.CurrencyCode
}
