// Package stripe loads PaymentIntents so the server, not the browser,
// supplies the Stripe confirmation.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v84"

	"github.com/xenking/shopfront/internal/domain/order"
)

// Config holds the Stripe secret key.
type Config struct {
	SecretKey string `usage:"Stripe secret key (sk_test_/sk_live_)"`
}

// Enabled reports whether a key was configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

type intentRetriever interface {
	Retrieve(ctx context.Context, id string, params *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error)
}

// Client fetches PaymentIntents from the Stripe API.
type Client struct {
	intents intentRetriever
}

// NewClient validates the key format and creates a Stripe API client.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if !hasAnyPrefix(key, "sk_test", "sk_live", "rk_test", "rk_live") {
		return nil, errors.New("stripe secret key must start with sk_ or rk_")
	}
	api := stripe.NewClient(key)
	return &Client{intents: api.V1PaymentIntents}, nil
}

// Confirmation retrieves the PaymentIntent and converts it for
// order.Service.ConfirmPayment.
func (c *Client) Confirmation(ctx context.Context, paymentIntentID string) (*order.StripeConfirmation, error) {
	pi, err := c.intents.Retrieve(ctx, paymentIntentID, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, errors.Wrapf(order.ErrPaymentNotVerified, "payment intent %q", paymentIntentID)
		}
		return nil, errors.Wrapf(err, "retrieve payment intent %q", paymentIntentID)
	}
	return confirmationFromIntent(pi), nil
}

func confirmationFromIntent(pi *stripe.PaymentIntent) *order.StripeConfirmation {
	c := &order.StripeConfirmation{
		PaymentIntentID: pi.ID,
		Status:          string(pi.Status),
		AmountMinor:     pi.Amount,
		Currency:        string(pi.Currency),
		ReceiptEmail:    pi.ReceiptEmail,
	}
	if pi.Created > 0 {
		c.Created = time.Unix(pi.Created, 0).UTC()
	}
	return c
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
