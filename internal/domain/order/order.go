package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/pricing"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderPayPal Provider = "paypal"
	ProviderStripe Provider = "stripe"
)

// ParseProvider accepts provider names in any case ("PayPal", "stripe").
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderPayPal, ProviderStripe:
		return p, nil
	default:
		return "", &UnsupportedProviderError{Provider: s}
	}
}

// Order is a placed order. Prices are fixed at creation; payment and
// delivery each flip exactly once.
type Order struct {
	ID              string
	UserID          string
	Items           []LineItem
	ShippingAddress ShippingAddress
	PaymentMethod   Provider
	AppliedCoupon   *AppliedCoupon
	Prices          pricing.Breakdown

	IsPaid        bool
	PaidAt        *time.Time
	PaymentResult *PaymentResult

	IsDelivered bool
	DeliveredAt *time.Time

	// InvoicePath is empty until an invoice was rendered.
	InvoicePath string
	CreatedAt   time.Time
}

// LineItem is a cart line rebuilt from the catalog. Name and UnitPrice are
// snapshots taken when the order was placed.
type LineItem struct {
	ProductID      string            `json:"product_id"`
	Name           string            `json:"name"`
	UnitPrice      decimal.Decimal   `json:"unit_price"`
	Quantity       int               `json:"quantity"`
	SelectedSize   string            `json:"selected_size,omitempty"`
	Customizations map[string]string `json:"customizations,omitempty"`
}

// ShippingAddress is where the order is delivered.
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// AppliedCoupon is the coupon as it was when the order was placed.
type AppliedCoupon struct {
	Code          string              `json:"code"`
	DiscountType  coupon.DiscountType `json:"discount_type"`
	DiscountValue decimal.Decimal     `json:"discount_value"`
}

// PaymentResult is the normalized provider confirmation stored on paid orders.
type PaymentResult struct {
	TransactionID string
	Status        string
	UpdateTime    time.Time
	PayerEmail    string
	Source        Provider
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create inserts o. When o.AppliedCoupon is set the coupon's usage
	// counter is incremented in the same transaction; an exhausted coupon
	// fails with *coupon.InvalidError.
	Create(ctx context.Context, o *Order) error
	// GetByID returns ErrOrderNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context, limit int) ([]Order, error)
	// TransactionUsed reports whether txID is recorded on any order other
	// than excludeOrderID.
	TransactionUsed(ctx context.Context, txID, excludeOrderID string) (bool, error)
	// MarkPaid flips is_paid only if it is still false. It returns
	// ErrAlreadyPaid when another confirmation won, ErrDuplicateTransaction
	// when the transaction id is taken, ErrOrderNotFound for unknown ids.
	MarkPaid(ctx context.Context, id string, result PaymentResult, paidAt time.Time) error
	// MarkDelivered sets the delivery flag on paid orders and returns
	// ErrOrderNotPaid otherwise.
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	SetInvoicePath(ctx context.Context, id, path string) error
}
