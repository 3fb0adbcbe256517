package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the items subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixedAmount takes a fixed amount, capped at the items subtotal.
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// ParseDiscountType converts a stored or imported discount type.
func ParseDiscountType(s string) (DiscountType, error) {
	switch t := DiscountType(s); t {
	case DiscountPercentage, DiscountFixedAmount:
		return t, nil
	default:
		return "", errors.Errorf("unsupported discount type: %q", s)
	}
}

var (
	// ErrInvalidCoupon is the root of every coupon rejection. Use errors.As
	// with *InvalidError to obtain the reason.
	ErrInvalidCoupon = errors.New("invalid coupon")
	// ErrCouponNotFound is returned by repositories for unknown codes.
	ErrCouponNotFound = errors.New("coupon not found")
)

// Coupon is a promotional code that reduces the items subtotal of an order.
type Coupon struct {
	Code                  string
	Description           string
	DiscountType          DiscountType
	DiscountValue         decimal.Decimal
	MinimumPurchaseAmount decimal.Decimal
	ValidFrom             time.Time
	ValidUntil            time.Time
	IsActive              bool
	// UsageLimitTotal is nil for coupons without a usage cap.
	UsageLimitTotal *int
	TimesUsed       int
}

// InvalidError reports why a coupon cannot be applied.
type InvalidError struct {
	Code   string
	Reason Reason
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("coupon %q: %s", e.Code, e.Reason.Message())
}

// Unwrap makes errors.Is(err, ErrInvalidCoupon) hold for every InvalidError.
func (e *InvalidError) Unwrap() error {
	return ErrInvalidCoupon
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	// FindByCode matches codes case-insensitively and returns
	// ErrCouponNotFound for unknown codes.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Upsert creates or replaces a coupon definition, keeping TimesUsed.
	Upsert(ctx context.Context, c *Coupon) error
}
