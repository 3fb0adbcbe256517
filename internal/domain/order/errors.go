package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/pricing"
)

// Sentinel errors for order placement and the payment state machine.
var (
	ErrEmptyCart            = pricing.ErrEmptyCart
	ErrOrderNotFound        = errors.New("order not found")
	ErrAlreadyPaid          = errors.New("order already paid")
	ErrOrderNotPaid         = errors.New("order not paid")
	ErrPaymentNotVerified   = errors.New("payment not verified by provider")
	ErrPaymentNotSuccessful = errors.New("payment not successful")
	ErrDuplicateTransaction = errors.New("transaction already used for another order")
	ErrAmountMismatch       = errors.New("paid amount does not match order total")
	ErrCurrencyMismatch     = errors.New("paid currency does not match order currency")
	ErrMissingConfirmation  = errors.New("payment confirmation missing")
	ErrProviderUnavailable  = errors.New("payment provider not configured")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// AmountMismatchError carries both sides of a failed amount comparison.
type AmountMismatchError struct {
	Expected decimal.Decimal
	Got      decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("paid amount %s does not match order total %s", e.Got.StringFixed(2), e.Expected.StringFixed(2))
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// CurrencyMismatchError is returned under the strict currency policy.
type CurrencyMismatchError struct {
	Expected string
	Got      string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("paid currency %q does not match order currency %q", e.Got, e.Expected)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// UnsupportedProviderError names an unknown payment provider.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported payment provider %q", e.Provider)
}
