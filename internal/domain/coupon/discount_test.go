package coupon

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscount(t *testing.T) {
	tests := []struct {
		name       string
		typ        DiscountType
		value      string
		minimum    string
		itemsPrice string
		want       string
		wantReason Reason
	}{
		{
			name:       "percentage",
			typ:        DiscountPercentage,
			value:      "10",
			itemsPrice: "200.00",
			want:       "20.00",
		},
		{
			name:       "percentage rounds to cents",
			typ:        DiscountPercentage,
			value:      "15",
			itemsPrice: "33.33",
			want:       "5.00",
		},
		{
			name:       "percentage over hundred clamps",
			typ:        DiscountPercentage,
			value:      "150",
			itemsPrice: "40.00",
			want:       "40.00",
		},
		{
			name:       "fixed",
			typ:        DiscountFixedAmount,
			value:      "30",
			itemsPrice: "200.00",
			want:       "30.00",
		},
		{
			name:       "fixed clamps to items price",
			typ:        DiscountFixedAmount,
			value:      "50",
			itemsPrice: "20.00",
			want:       "20.00",
		},
		{
			name:       "zero value",
			typ:        DiscountFixedAmount,
			value:      "0",
			itemsPrice: "20.00",
			want:       "0",
		},
		{
			name:       "minimum met exactly",
			typ:        DiscountFixedAmount,
			value:      "5",
			minimum:    "50.00",
			itemsPrice: "50.00",
			want:       "5.00",
		},
		{
			name:       "minimum not met",
			typ:        DiscountPercentage,
			value:      "10",
			minimum:    "50.00",
			itemsPrice: "49.99",
			wantReason: ReasonMinimumPurchaseNotMet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCoupon()
			c.DiscountType = tt.typ
			c.DiscountValue = decimal.RequireFromString(tt.value)
			if tt.minimum != "" {
				c.MinimumPurchaseAmount = decimal.RequireFromString(tt.minimum)
			}

			got, err := Discount(c, decimal.RequireFromString(tt.itemsPrice))
			if tt.wantReason != ReasonNone {
				var invalid *InvalidError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tt.wantReason, invalid.Reason)
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestDiscount_UnsupportedType(t *testing.T) {
	c := validCoupon()
	c.DiscountType = "free_lowest"

	_, err := Discount(c, decimal.NewFromInt(10))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
}

func TestParseDiscountType(t *testing.T) {
	got, err := ParseDiscountType("fixed_amount")
	require.NoError(t, err)
	assert.Equal(t, DiscountFixedAmount, got)

	_, err = ParseDiscountType("bogus")
	require.Error(t, err)
}
