// Package paypal verifies PayPal checkout orders for the payment state
// machine.
package paypal

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/order"
)

// statusCompleted is the only PayPal order status treated as paid.
const statusCompleted = "COMPLETED"

// Config holds PayPal REST credentials.
type Config struct {
	ClientID string `usage:"PayPal REST client id"`
	Secret   string `usage:"PayPal REST client secret"`
	// Live selects the production API instead of the sandbox.
	Live bool `default:"false" usage:"Use the live PayPal API instead of the sandbox"`
}

// Enabled reports whether credentials were configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.Secret) != ""
}

type orderGetter interface {
	GetOrder(ctx context.Context, orderID string) (*paypal.Order, error)
}

// Client implements order.PayPalVerifier over the PayPal Orders API.
type Client struct {
	api orderGetter
}

var _ order.PayPalVerifier = (*Client)(nil)

// NewClient creates a client for the sandbox or live API. Access tokens are
// fetched and refreshed on demand.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("paypal client id and secret are required")
	}
	base := paypal.APIBaseSandBox
	if cfg.Live {
		base = paypal.APIBaseLive
	}
	api, err := paypal.NewClient(strings.TrimSpace(cfg.ClientID), strings.TrimSpace(cfg.Secret), base)
	if err != nil {
		return nil, errors.Wrap(err, "create paypal client")
	}
	return &Client{api: api}, nil
}

// Verify fetches the PayPal order the buyer approved. The transaction id is
// the PayPal order id returned by the checkout.
func (c *Client) Verify(ctx context.Context, transactionID string) (*order.PayPalVerification, error) {
	o, err := c.api.GetOrder(ctx, transactionID)
	if err != nil {
		return nil, errors.Wrapf(err, "get paypal order %q", transactionID)
	}
	return verificationFromOrder(o)
}

func verificationFromOrder(o *paypal.Order) (*order.PayPalVerification, error) {
	v := &order.PayPalVerification{
		Status:   o.Status,
		Verified: o.Status == statusCompleted,
	}
	if o.Payer != nil {
		v.PayerEmail = o.Payer.EmailAddress
	}
	if o.UpdateTime != nil {
		v.UpdateTime = o.UpdateTime.UTC()
	}

	if len(o.PurchaseUnits) == 0 || o.PurchaseUnits[0].Amount == nil {
		// Nothing to compare against; never accept such an order.
		v.Verified = false
		return v, nil
	}
	amount := o.PurchaseUnits[0].Amount
	value, err := decimal.NewFromString(amount.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "parse paypal amount %q", amount.Value)
	}
	v.Amount = value
	v.Currency = amount.Currency
	return v, nil
}
