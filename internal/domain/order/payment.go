package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Confirmation is the provider specific proof of payment. Exactly the
// field matching Provider is read.
type Confirmation struct {
	Provider Provider
	PayPal   *PayPalConfirmation
	Stripe   *StripeConfirmation
}

// PayPalConfirmation is what the client reports after PayPal checkout.
// Only the transaction id is trusted; it is verified with PayPal.
type PayPalConfirmation struct {
	TransactionID string
	PayerEmail    string
}

// StripeConfirmation is a PaymentIntent fetched from Stripe by the server.
type StripeConfirmation struct {
	PaymentIntentID string
	Status          string
	// AmountMinor is the amount in the currency's minor unit (cents).
	AmountMinor  int64
	Currency     string
	Created      time.Time
	ReceiptEmail string
}

// StripeStatusSucceeded is the only PaymentIntent status accepted as paid.
const StripeStatusSucceeded = "succeeded"

// PayPalVerification is PayPal's view of a transaction.
type PayPalVerification struct {
	Verified   bool
	Status     string
	Amount     decimal.Decimal
	Currency   string
	PayerEmail string
	UpdateTime time.Time
}

// PayPalVerifier checks a PayPal transaction with PayPal.
type PayPalVerifier interface {
	Verify(ctx context.Context, transactionID string) (*PayPalVerification, error)
}

// InvoiceRenderer produces an invoice for a paid order and returns where it
// was stored.
type InvoiceRenderer interface {
	Render(ctx context.Context, o *Order) (string, error)
}

// CurrencyPolicy decides what a Stripe currency mismatch does.
type CurrencyPolicy string

const (
	// CurrencyPolicyWarn logs the mismatch and accepts the payment.
	CurrencyPolicyWarn CurrencyPolicy = "warn"
	// CurrencyPolicyStrict rejects the payment with ErrCurrencyMismatch.
	CurrencyPolicyStrict CurrencyPolicy = "strict"
)
