package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	confirmed      metric.Int64Counter
	rejected       metric.Int64Counter
	invoicesFailed metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	var (
		m   metrics
		err error
	)
	if m.confirmed, err = meter.Int64Counter("shop.payments.confirmed",
		metric.WithDescription("Payments that moved an order to paid"),
	); err != nil {
		return nil, errors.Wrap(err, "payments confirmed counter")
	}
	if m.rejected, err = meter.Int64Counter("shop.payments.rejected",
		metric.WithDescription("Payment confirmations that were refused"),
	); err != nil {
		return nil, errors.Wrap(err, "payments rejected counter")
	}
	if m.invoicesFailed, err = meter.Int64Counter("shop.invoices.failed",
		metric.WithDescription("Invoices that could not be rendered"),
	); err != nil {
		return nil, errors.Wrap(err, "invoices failed counter")
	}
	return &m, nil
}

func (m *metrics) paymentConfirmed(ctx context.Context, p Provider) {
	m.confirmed.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", string(p))))
}

func (m *metrics) paymentRejected(ctx context.Context, p Provider, err error) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(p)),
		attribute.String("reason", rejectionReason(err)),
	))
}

func (m *metrics) invoiceFailed(ctx context.Context) {
	m.invoicesFailed.Add(ctx, 1)
}

func rejectionReason(err error) string {
	var unsupported *UnsupportedProviderError
	switch {
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrPaymentNotVerified):
		return "not_verified"
	case errors.Is(err, ErrPaymentNotSuccessful):
		return "not_successful"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate_transaction"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrCurrencyMismatch):
		return "currency_mismatch"
	case errors.Is(err, ErrMissingConfirmation):
		return "missing_confirmation"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.As(err, &unsupported):
		return "unsupported_provider"
	default:
		return "error"
	}
}
