package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/pricing"
	"github.com/xenking/shopfront/internal/domain/product"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// CartItem is a client submitted cart line. It carries no price.
type CartItem struct {
	ProductID      string
	Quantity       int
	SelectedSize   string
	Customizations map[string]string
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID          string
	Items           []CartItem
	ShippingAddress ShippingAddress
	PaymentMethod   string
	CouponCode      string
}

// Quote is a priced cart that has not been persisted.
type Quote struct {
	Items  []LineItem
	Coupon *AppliedCoupon
	Prices pricing.Breakdown
}

// ServiceConfig holds the optional collaborators of a Service.
type ServiceConfig struct {
	// Pricing defaults to pricing.DefaultPolicy.
	Pricing pricing.Policy
	// CurrencyPolicy defaults to CurrencyPolicyWarn.
	CurrencyPolicy CurrencyPolicy
	// PayPal may be nil, in which case PayPal payments are refused with
	// ErrProviderUnavailable.
	PayPal PayPalVerifier
	// Invoices may be nil to skip invoice rendering.
	Invoices InvoiceRenderer
	Meter    metric.Meter
}

// Service encapsulates order placement, payment and delivery.
type Service struct {
	products product.Repository
	coupons  coupon.Resolver
	orders   Repository

	policy         pricing.Policy
	currencyPolicy CurrencyPolicy
	paypal         PayPalVerifier
	invoices       InvoiceRenderer
	metrics        *metrics

	now   func() time.Time
	newID func() string
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	cfg ServiceConfig,
	products product.Repository,
	coupons coupon.Resolver,
	orders Repository,
) (*Service, error) {
	m, err := newMetrics(cfg.Meter)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	if cfg.Pricing == nil {
		cfg.Pricing = pricing.DefaultPolicy()
	}
	switch cfg.CurrencyPolicy {
	case "":
		cfg.CurrencyPolicy = CurrencyPolicyWarn
	case CurrencyPolicyWarn, CurrencyPolicyStrict:
	default:
		return nil, errors.Errorf("unknown currency policy %q", cfg.CurrencyPolicy)
	}

	return &Service{
		products:       products,
		coupons:        coupons,
		orders:         orders,
		policy:         cfg.Pricing,
		currencyPolicy: cfg.CurrencyPolicy,
		paypal:         cfg.PayPal,
		invoices:       cfg.Invoices,
		metrics:        m,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
	}, nil
}

// Quote prices a cart with the same rules as PlaceOrder without storing
// anything or consuming the coupon.
func (s *Service) Quote(ctx context.Context, items []CartItem, couponCode string) (*Quote, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]string, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	productMap := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		productMap[p.ID] = p
	}

	// Rebuild lines from catalog records; client prices never get here.
	lines := make([]LineItem, len(items))
	priced := make([]pricing.Item, len(items))
	for i, item := range items {
		p, ok := productMap[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		lines[i] = LineItem{
			ProductID:      p.ID,
			Name:           p.Name,
			UnitPrice:      p.Price,
			Quantity:       item.Quantity,
			SelectedSize:   item.SelectedSize,
			Customizations: item.Customizations,
		}
		priced[i] = pricing.Item{ProductID: p.ID, UnitPrice: p.Price, Quantity: item.Quantity}
	}

	var c *coupon.Coupon
	if code := coupon.NormalizeCode(couponCode); code != "" {
		c, err = s.coupons.Resolve(ctx, code)
		if err != nil {
			return nil, errors.Wrap(err, "resolve coupon")
		}
	}

	prices, err := pricing.ComputeTotals(priced, c, s.now(), s.policy)
	if err != nil {
		return nil, errors.Wrap(err, "compute totals")
	}

	q := &Quote{Items: lines, Prices: prices}
	if c != nil {
		q.Coupon = &AppliedCoupon{
			Code:          c.Code,
			DiscountType:  c.DiscountType,
			DiscountValue: c.DiscountValue,
		}
	}
	return q, nil
}

// PlaceOrder prices the cart from trusted catalog data, then stores the order
// and consumes the coupon in one repository call.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	q, err := s.Quote(ctx, req.Items, req.CouponCode)
	if err != nil {
		return nil, err
	}

	method, err := ParseProvider(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	o := &Order{
		ID:              s.newID(),
		UserID:          req.UserID,
		Items:           q.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   method,
		AppliedCoupon:   q.Coupon,
		Prices:          q.Prices,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	return o, nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ListByUser returns the orders placed by userID, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// ListAll returns the most recent orders of all users. Non-positive limits
// use the default; large ones are capped.
func (s *Service) ListAll(ctx context.Context, limit int) ([]Order, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	orders, err := s.orders.ListAll(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
