package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/shopfront/internal/domain/pricing"
)

// --- Mock implementations ---

type mockPayPal struct {
	result *PayPalVerification
	err    error
}

func (m *mockPayPal) Verify(_ context.Context, _ string) (*PayPalVerification, error) {
	return m.result, m.err
}

type mockInvoices struct {
	mu    sync.Mutex
	path  string
	err   error
	calls int
}

func (m *mockInvoices) Render(_ context.Context, _ *Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.path, m.err
}

// --- Helpers ---

func unpaidOrder(total string) *Order {
	return &Order{
		ID:            "order-1",
		UserID:        "user-1",
		PaymentMethod: ProviderStripe,
		Prices: pricing.Breakdown{
			TotalPrice: dec(total),
			Currency:   "USD",
		},
		CreatedAt: testNow.Add(-time.Hour),
	}
}

func stripeConfirmation(id string, amount int64) Confirmation {
	return Confirmation{
		Provider: ProviderStripe,
		Stripe: &StripeConfirmation{
			PaymentIntentID: id,
			Status:          StripeStatusSucceeded,
			AmountMinor:     amount,
			Currency:        "usd",
			Created:         testNow.Add(-time.Minute),
			ReceiptEmail:    "buyer@example.com",
		},
	}
}

func paypalConfirmation(txID string) Confirmation {
	return Confirmation{
		Provider: ProviderPayPal,
		PayPal:   &PayPalConfirmation{TransactionID: txID, PayerEmail: "client@example.com"},
	}
}

func verified(amount string) *mockPayPal {
	return &mockPayPal{result: &PayPalVerification{
		Verified:   true,
		Status:     "COMPLETED",
		Amount:     dec(amount),
		Currency:   "USD",
		PayerEmail: "payer@example.com",
		UpdateTime: testNow.Add(-time.Minute),
	}}
}

// --- Tests ---

func TestConfirmPayment_Stripe(t *testing.T) {
	tests := []struct {
		name    string
		total   string
		amount  int64
		status  string
		wantErr error
	}{
		{name: "exact cents", total: "599.99", amount: 59999},
		{name: "one cent over", total: "599.99", amount: 60000, wantErr: ErrAmountMismatch},
		{name: "one cent under", total: "599.99", amount: 59998, wantErr: ErrAmountMismatch},
		{name: "whole amount", total: "25", amount: 2500},
		{name: "requires payment method", total: "25", amount: 2500, status: "requires_payment_method", wantErr: ErrPaymentNotSuccessful},
		{name: "processing", total: "25", amount: 2500, status: "processing", wantErr: ErrPaymentNotSuccessful},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newMemOrderRepo(unpaidOrder(tt.total))
			svc := newTestService(t, ServiceConfig{}, newProductRepo(), nil, orders)

			c := stripeConfirmation("pi_1", tt.amount)
			if tt.status != "" {
				c.Stripe.Status = tt.status
			}

			o, err := svc.ConfirmPayment(context.Background(), "order-1", c)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, orders.stored("order-1").IsPaid)
				return
			}
			require.NoError(t, err)
			assert.True(t, o.IsPaid)
			require.NotNil(t, o.PaidAt)
			assert.Equal(t, testNow, *o.PaidAt)
			require.NotNil(t, o.PaymentResult)
			assert.Equal(t, PaymentResult{
				TransactionID: "pi_1",
				Status:        StripeStatusSucceeded,
				UpdateTime:    testNow.Add(-time.Minute),
				PayerEmail:    "buyer@example.com",
				Source:        ProviderStripe,
			}, *o.PaymentResult)
			assert.True(t, orders.stored("order-1").IsPaid)
		})
	}
}

func TestConfirmPayment_StripeAmountMismatchDetails(t *testing.T) {
	orders := newMemOrderRepo(unpaidOrder("599.99"))
	svc := newTestService(t, ServiceConfig{}, newProductRepo(), nil, orders)

	_, err := svc.ConfirmPayment(context.Background(), "order-1", stripeConfirmation("pi_1", 60000))

	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, dec("599.99").Equal(mismatch.Expected))
	assert.True(t, dec("600").Equal(mismatch.Got))
}

func TestConfirmPayment_StripeCurrencyMismatch(t *testing.T) {
	t.Run("warn logs and accepts", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		ctx := zctx.Base(context.Background(), zap.New(core))

		orders := newMemOrderRepo(unpaidOrder("10.00"))
		svc := newTestService(t, ServiceConfig{}, newProductRepo(), nil, orders)

		c := stripeConfirmation("pi_1", 1000)
		c.Stripe.Currency = "eur"

		o, err := svc.ConfirmPayment(ctx, "order-1", c)
		require.NoError(t, err)
		assert.True(t, o.IsPaid)

		entries := logs.FilterMessage("Stripe currency differs from order currency").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "eur", entries[0].ContextMap()["paid_currency"])
	})

	t.Run("strict rejects", func(t *testing.T) {
		orders := newMemOrderRepo(unpaidOrder("10.00"))
		svc := newTestService(t, ServiceConfig{CurrencyPolicy: CurrencyPolicyStrict}, newProductRepo(), nil, orders)

		c := stripeConfirmation("pi_1", 1000)
		c.Stripe.Currency = "eur"

		_, err := svc.ConfirmPayment(context.Background(), "order-1", c)
		var mismatch *CurrencyMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Equal(t, "USD", mismatch.Expected)
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
		assert.False(t, orders.stored("order-1").IsPaid)
	})

	t.Run("case differences are not a mismatch", func(t *testing.T) {
		orders := newMemOrderRepo(unpaidOrder("10.00"))
		svc := newTestService(t, ServiceConfig{CurrencyPolicy: CurrencyPolicyStrict}, newProductRepo(), nil, orders)

		_, err := svc.ConfirmPayment(context.Background(), "order-1", stripeConfirmation("pi_1", 1000))
		require.NoError(t, err)
	})
}

func TestConfirmPayment_PayPal(t *testing.T) {
	tests := []struct {
		name    string
		paypal  *mockPayPal
		wantErr error
	}{
		{name: "verified", paypal: verified("45.50")},
		{name: "verified with trailing precision", paypal: verified("45.5000")},
		{name: "amount differs", paypal: verified("45.49"), wantErr: ErrAmountMismatch},
		{
			name:    "not verified",
			paypal:  &mockPayPal{result: &PayPalVerification{Verified: false, Amount: dec("45.50")}},
			wantErr: ErrPaymentNotVerified,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := newMemOrderRepo(unpaidOrder("45.50"))
			svc := newTestService(t, ServiceConfig{PayPal: tt.paypal}, newProductRepo(), nil, orders)

			o, err := svc.ConfirmPayment(context.Background(), "order-1", paypalConfirmation("TX-1"))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, orders.stored("order-1").IsPaid)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, o.PaymentResult)
			assert.Equal(t, "TX-1", o.PaymentResult.TransactionID)
			assert.Equal(t, "COMPLETED", o.PaymentResult.Status)
			assert.Equal(t, "payer@example.com", o.PaymentResult.PayerEmail)
			assert.Equal(t, ProviderPayPal, o.PaymentResult.Source)
		})
	}
}

func TestConfirmPayment_PayPalFallsBackToClientEmail(t *testing.T) {
	pp := verified("45.50")
	pp.result.PayerEmail = ""
	svc := newTestService(t, ServiceConfig{PayPal: pp}, newProductRepo(), nil, newMemOrderRepo(unpaidOrder("45.50")))

	o, err := svc.ConfirmPayment(context.Background(), "order-1", paypalConfirmation("TX-1"))
	require.NoError(t, err)
	assert.Equal(t, "client@example.com", o.PaymentResult.PayerEmail)
}

func TestConfirmPayment_PayPalVerifierError(t *testing.T) {
	apiErr := errors.New("paypal: 503")
	svc := newTestService(t, ServiceConfig{PayPal: &mockPayPal{err: apiErr}}, newProductRepo(), nil, newMemOrderRepo(unpaidOrder("1")))

	_, err := svc.ConfirmPayment(context.Background(), "order-1", paypalConfirmation("TX-1"))
	require.ErrorIs(t, err, apiErr)
}

func TestConfirmPayment_DuplicateTransaction(t *testing.T) {
	paidAt := testNow.Add(-24 * time.Hour)
	other := unpaidOrder("45.50")
	other.ID = "order-0"
	other.IsPaid = true
	other.PaidAt = &paidAt
	other.PaymentResult = &PaymentResult{TransactionID: "TX-1", Source: ProviderPayPal}

	t.Run("paypal", func(t *testing.T) {
		orders := newMemOrderRepo(other, unpaidOrder("45.50"))
		svc := newTestService(t, ServiceConfig{PayPal: verified("45.50")}, newProductRepo(), nil, orders)

		_, err := svc.ConfirmPayment(context.Background(), "order-1", paypalConfirmation("TX-1"))
		require.ErrorIs(t, err, ErrDuplicateTransaction)
		assert.False(t, orders.stored("order-1").IsPaid)
	})

	t.Run("stripe", func(t *testing.T) {
		orders := newMemOrderRepo(other, unpaidOrder("45.50"))
		svc := newTestService(t, ServiceConfig{}, newProductRepo(), nil, orders)

		_, err := svc.ConfirmPayment(context.Background(), "order-1", stripeConfirmation("TX-1", 4550))
		require.ErrorIs(t, err, ErrDuplicateTransaction)
	})
}

func TestConfirmPayment_AlreadyPaidLeavesOrderUnmodified(t *testing.T) {
	paidAt := testNow.Add(-time.Hour)
	o := unpaidOrder("10.00")
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentResult = &PaymentResult{TransactionID: "pi_original", Source: ProviderStripe}
	orders := newMemOrderRepo(o)
	invoices := &mockInvoices{path: "invoice.json.gz"}
	svc := newTestService(t, ServiceConfig{PayPal: verified("10.00"), Invoices: invoices}, newProductRepo(), nil, orders)

	before := orders.stored("order-1")
	for _, c := range []Confirmation{stripeConfirmation("pi_other", 1000), paypalConfirmation("TX-9")} {
		_, err := svc.ConfirmPayment(context.Background(), "order-1", c)
		require.ErrorIs(t, err, ErrAlreadyPaid)
	}

	after := orders.stored("order-1")
	assert.Equal(t, before.PaidAt, after.PaidAt)
	assert.Equal(t, "pi_original", after.PaymentResult.TransactionID)
	assert.Zero(t, invoices.calls)
}

func TestConfirmPayment_ConcurrentConfirmationsPayOnce(t *testing.T) {
	orders := newMemOrderRepo(unpaidOrder("599.99"))
	invoices := &mockInvoices{path: "invoice.json.gz"}
	svc := newTestService(t, ServiceConfig{Invoices: invoices}, newProductRepo(), nil, orders)

	const attempts = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, attempts)
	)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c := stripeConfirmation("pi_"+string(rune('a'+i)), 59999)
			_, errs[i] = svc.ConfirmPayment(context.Background(), "order-1", c)
		}()
	}
	close(start)
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyPaid)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, invoices.calls)
}

func TestConfirmPayment_InvoiceFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	ctx := zctx.Base(context.Background(), zap.New(core))

	orders := newMemOrderRepo(unpaidOrder("10.00"))
	invoices := &mockInvoices{err: errors.New("disk full")}
	svc := newTestService(t, ServiceConfig{Invoices: invoices}, newProductRepo(), nil, orders)

	o, err := svc.ConfirmPayment(ctx, "order-1", stripeConfirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.True(t, o.IsPaid)
	assert.Empty(t, o.InvoicePath)
	assert.True(t, orders.stored("order-1").IsPaid)
	assert.Equal(t, 1, logs.FilterMessage("Invoice generation failed").Len())
}

func TestConfirmPayment_InvoicePathRecorded(t *testing.T) {
	orders := newMemOrderRepo(unpaidOrder("10.00"))
	invoices := &mockInvoices{path: "invoices/invoice-order-1.json.gz"}
	svc := newTestService(t, ServiceConfig{Invoices: invoices}, newProductRepo(), nil, orders)

	o, err := svc.ConfirmPayment(context.Background(), "order-1", stripeConfirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.Equal(t, "invoices/invoice-order-1.json.gz", o.InvoicePath)
	assert.Equal(t, "invoices/invoice-order-1.json.gz", orders.stored("order-1").InvoicePath)
}

func TestConfirmPayment_InvoicePathStoreFailureIsSwallowed(t *testing.T) {
	orders := newMemOrderRepo(unpaidOrder("10.00"))
	orders.invoiceErr = errors.New("timeout")
	svc := newTestService(t, ServiceConfig{Invoices: &mockInvoices{path: "p"}}, newProductRepo(), nil, orders)

	o, err := svc.ConfirmPayment(context.Background(), "order-1", stripeConfirmation("pi_1", 1000))
	require.NoError(t, err)
	assert.True(t, o.IsPaid)
}

func TestConfirmPayment_InputErrors(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServiceConfig
		orderID string
		c       Confirmation
		check   func(t *testing.T, err error)
	}{
		{
			name:    "unknown order",
			orderID: "missing",
			c:       stripeConfirmation("pi_1", 1000),
			check:   func(t *testing.T, err error) { require.ErrorIs(t, err, ErrOrderNotFound) },
		},
		{
			name:    "stripe payload missing",
			orderID: "order-1",
			c:       Confirmation{Provider: ProviderStripe},
			check:   func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMissingConfirmation) },
		},
		{
			name:    "paypal transaction id missing",
			orderID: "order-1",
			cfg:     ServiceConfig{PayPal: verified("10.00")},
			c:       Confirmation{Provider: ProviderPayPal, PayPal: &PayPalConfirmation{}},
			check:   func(t *testing.T, err error) { require.ErrorIs(t, err, ErrMissingConfirmation) },
		},
		{
			name:    "paypal not configured",
			orderID: "order-1",
			c:       paypalConfirmation("TX-1"),
			check:   func(t *testing.T, err error) { require.ErrorIs(t, err, ErrProviderUnavailable) },
		},
		{
			name:    "unknown provider",
			orderID: "order-1",
			c:       Confirmation{Provider: "bitcoin"},
			check: func(t *testing.T, err error) {
				var upErr *UnsupportedProviderError
				require.ErrorAs(t, err, &upErr)
				assert.Equal(t, "bitcoin", upErr.Provider)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.cfg, newProductRepo(), nil, newMemOrderRepo(unpaidOrder("10.00")))
			_, err := svc.ConfirmPayment(context.Background(), tt.orderID, tt.c)
			tt.check(t, err)
		})
	}
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "amount_mismatch", rejectionReason(&AmountMismatchError{Expected: decimal.Zero, Got: decimal.Zero}))
	assert.Equal(t, "already_paid", rejectionReason(errors.Wrap(ErrAlreadyPaid, "mark paid")))
	assert.Equal(t, "unsupported_provider", rejectionReason(&UnsupportedProviderError{Provider: "x"}))
	assert.Equal(t, "error", rejectionReason(errors.New("boom")))
}
