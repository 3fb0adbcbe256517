package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/xenking/shopfront/internal/domain/order"
)

type mockIntents struct {
	intent *stripe.PaymentIntent
	err    error
	asked  string
}

func (m *mockIntents) Retrieve(_ context.Context, id string, _ *stripe.PaymentIntentRetrieveParams) (*stripe.PaymentIntent, error) {
	m.asked = id
	return m.intent, m.err
}

func TestConfirmation(t *testing.T) {
	created := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	intents := &mockIntents{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		Status:       stripe.PaymentIntentStatusSucceeded,
		Amount:       59999,
		Currency:     stripe.CurrencyUSD,
		Created:      created.Unix(),
		ReceiptEmail: "buyer@example.com",
	}}
	c := &Client{intents: intents}

	got, err := c.Confirmation(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intents.asked)
	assert.Equal(t, &order.StripeConfirmation{
		PaymentIntentID: "pi_123",
		Status:          order.StripeStatusSucceeded,
		AmountMinor:     59999,
		Currency:        "usd",
		Created:         created,
		ReceiptEmail:    "buyer@example.com",
	}, got)
}

func TestConfirmation_APIError(t *testing.T) {
	apiErr := errors.New("no such payment_intent")
	_, err := (&Client{intents: &mockIntents{err: apiErr}}).Confirmation(context.Background(), "pi_x")
	require.ErrorIs(t, err, apiErr)
}

func TestConfirmation_MissingIntent(t *testing.T) {
	apiErr := &stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing, Msg: "No such payment_intent"}
	_, err := (&Client{intents: &mockIntents{err: apiErr}}).Confirmation(context.Background(), "pi_x")
	require.ErrorIs(t, err, order.ErrPaymentNotVerified)
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{key: "", wantErr: true},
		{key: "pk_test_123", wantErr: true},
		{key: "sk_test_123"},
		{key: "rk_live_123"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := NewClient(Config{SecretKey: tt.key})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
