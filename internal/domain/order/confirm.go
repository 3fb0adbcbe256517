package order

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// ConfirmPayment moves an unpaid order to paid after checking c with the
// provider rules. The flip is a conditional update, so of two racing
// confirmations exactly one succeeds and the other gets ErrAlreadyPaid.
//
// Invoice rendering runs after the order is stored as paid and never fails
// the call.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string, c Confirmation) (*Order, error) {
	o, err := s.confirm(ctx, orderID, c)
	if err != nil {
		s.metrics.paymentRejected(ctx, c.Provider, err)
		return nil, err
	}
	s.metrics.paymentConfirmed(ctx, c.Provider)

	s.renderInvoice(ctx, o)
	return o, nil
}

func (s *Service) confirm(ctx context.Context, orderID string, c Confirmation) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.IsPaid {
		return nil, ErrAlreadyPaid
	}

	var result PaymentResult
	switch c.Provider {
	case ProviderPayPal:
		result, err = s.verifyPayPal(ctx, o, c.PayPal)
	case ProviderStripe:
		result, err = s.verifyStripe(ctx, o, c.Stripe)
	default:
		err = &UnsupportedProviderError{Provider: string(c.Provider)}
	}
	if err != nil {
		return nil, err
	}

	paidAt := s.now().UTC()
	if err := s.orders.MarkPaid(ctx, o.ID, result, paidAt); err != nil {
		return nil, errors.Wrap(err, "mark paid")
	}

	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentResult = &result
	return o, nil
}

func (s *Service) verifyPayPal(ctx context.Context, o *Order, c *PayPalConfirmation) (PaymentResult, error) {
	if c == nil || c.TransactionID == "" {
		return PaymentResult{}, ErrMissingConfirmation
	}
	if s.paypal == nil {
		return PaymentResult{}, ErrProviderUnavailable
	}

	v, err := s.paypal.Verify(ctx, c.TransactionID)
	if err != nil {
		return PaymentResult{}, errors.Wrap(err, "verify paypal transaction")
	}
	if !v.Verified {
		return PaymentResult{}, ErrPaymentNotVerified
	}
	if err := s.checkTransactionUnused(ctx, c.TransactionID, o.ID); err != nil {
		return PaymentResult{}, err
	}
	if !v.Amount.Round(2).Equal(o.Prices.TotalPrice.Round(2)) {
		return PaymentResult{}, &AmountMismatchError{Expected: o.Prices.TotalPrice, Got: v.Amount}
	}

	email := v.PayerEmail
	if email == "" {
		email = c.PayerEmail
	}
	return PaymentResult{
		TransactionID: c.TransactionID,
		Status:        v.Status,
		UpdateTime:    v.UpdateTime.UTC(),
		PayerEmail:    email,
		Source:        ProviderPayPal,
	}, nil
}

func (s *Service) verifyStripe(ctx context.Context, o *Order, c *StripeConfirmation) (PaymentResult, error) {
	if c == nil || c.PaymentIntentID == "" {
		return PaymentResult{}, ErrMissingConfirmation
	}
	if c.Status != StripeStatusSucceeded {
		return PaymentResult{}, errors.Wrapf(ErrPaymentNotSuccessful, "payment intent status %q", c.Status)
	}

	expected := o.Prices.TotalPrice.Mul(hundred).Round(0).IntPart()
	if c.AmountMinor != expected {
		return PaymentResult{}, &AmountMismatchError{
			Expected: o.Prices.TotalPrice,
			Got:      decimal.New(c.AmountMinor, -2),
		}
	}

	if !strings.EqualFold(c.Currency, o.Prices.Currency) {
		if s.currencyPolicy == CurrencyPolicyStrict {
			return PaymentResult{}, &CurrencyMismatchError{Expected: o.Prices.Currency, Got: c.Currency}
		}
		zctx.From(ctx).Warn("Stripe currency differs from order currency",
			zap.String("order_id", o.ID),
			zap.String("payment_intent_id", c.PaymentIntentID),
			zap.String("order_currency", o.Prices.Currency),
			zap.String("paid_currency", c.Currency),
		)
	}

	if err := s.checkTransactionUnused(ctx, c.PaymentIntentID, o.ID); err != nil {
		return PaymentResult{}, err
	}

	return PaymentResult{
		TransactionID: c.PaymentIntentID,
		Status:        c.Status,
		UpdateTime:    c.Created.UTC(),
		PayerEmail:    c.ReceiptEmail,
		Source:        ProviderStripe,
	}, nil
}

func (s *Service) checkTransactionUnused(ctx context.Context, txID, orderID string) error {
	used, err := s.orders.TransactionUsed(ctx, txID, orderID)
	if err != nil {
		return errors.Wrap(err, "check transaction")
	}
	if used {
		return ErrDuplicateTransaction
	}
	return nil
}

func (s *Service) renderInvoice(ctx context.Context, o *Order) {
	if s.invoices == nil {
		return
	}
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	path, err := s.invoices.Render(ctx, o)
	if err != nil {
		s.metrics.invoiceFailed(ctx)
		lg.Error("Invoice generation failed", zap.Error(err))
		return
	}
	o.InvoicePath = path

	if err := s.orders.SetInvoicePath(ctx, o.ID, path); err != nil {
		lg.Warn("Failed to record invoice path", zap.String("path", path), zap.Error(err))
	}
}
