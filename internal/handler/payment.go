package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/order"
)

var errInvoiceMissing = errors.New("invoice not generated")

// PayOrder confirms the payment of an order. PayPal confirmations carry the
// capture transaction id; Stripe confirmations carry only the PaymentIntent
// id and the intent itself is fetched from Stripe.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var provider, transactionID, payerEmail, paymentIntentID string
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "provider":
			provider, err = d.Str()
		case "transactionId":
			transactionID, err = optStr(d)
		case "payerEmail":
			payerEmail, err = optStr(d)
		case "paymentIntentId":
			paymentIntentID, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.ownedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := order.ParseProvider(provider)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c := order.Confirmation{Provider: p}
	switch p {
	case order.ProviderPayPal:
		c.PayPal = &order.PayPalConfirmation{
			TransactionID: strings.TrimSpace(transactionID),
			PayerEmail:    payerEmail,
		}
	case order.ProviderStripe:
		if paymentIntentID == "" {
			writeError(w, r, order.ErrMissingConfirmation)
			return
		}
		if h.stripe == nil {
			writeError(w, r, order.ErrProviderUnavailable)
			return
		}
		c.Stripe, err = h.stripe.Confirmation(ctx, paymentIntentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	paid, err := h.orders.ConfirmPayment(ctx, o.ID, c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, paid)
	})
}

// DownloadInvoice streams the invoice of a paid order.
func (h *Handler) DownloadInvoice(w http.ResponseWriter, r *http.Request) {
	o, err := h.ownedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if o.InvoicePath == "" {
		writeError(w, r, errInvoiceMissing)
		return
	}

	rc, err := h.invoices.Open(o.InvoicePath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="invoice-`+o.ID+`.json"`)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		zctx.From(r.Context()).Warn("Invoice download interrupted", zap.Error(err))
	}
}
