package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/product"
	"github.com/xenking/shopfront/internal/invoice"
)

var sentinelStatus = []struct {
	err    error
	status int
}{
	{order.ErrEmptyCart, http.StatusBadRequest},
	{order.ErrMissingConfirmation, http.StatusBadRequest},
	{order.ErrAmountMismatch, http.StatusBadRequest},
	{order.ErrCurrencyMismatch, http.StatusBadRequest},
	{coupon.ErrInvalidCoupon, http.StatusBadRequest},
	{errUnauthorized, http.StatusUnauthorized},
	{order.ErrPaymentNotVerified, http.StatusPaymentRequired},
	{order.ErrPaymentNotSuccessful, http.StatusPaymentRequired},
	{errForbidden, http.StatusForbidden},
	{order.ErrOrderNotFound, http.StatusNotFound},
	{product.ErrNotFound, http.StatusNotFound},
	{invoice.ErrNotFound, http.StatusNotFound},
	{errInvoiceMissing, http.StatusNotFound},
	{order.ErrAlreadyPaid, http.StatusConflict},
	{order.ErrDuplicateTransaction, http.StatusConflict},
	{order.ErrOrderNotPaid, http.StatusConflict},
	{order.ErrProviderUnavailable, http.StatusServiceUnavailable},
}

// statusOf classifies err. The bool is false for unexpected errors.
func statusOf(err error) (int, bool) {
	var (
		reqErr      *requestError
		qtyErr      *order.InvalidQuantityError
		missingErr  *order.ProductNotFoundError
		providerErr *order.UnsupportedProviderError
	)
	switch {
	case errors.As(err, &reqErr), errors.As(err, &providerErr):
		return http.StatusBadRequest, true
	case errors.As(err, &qtyErr), errors.As(err, &missingErr):
		return http.StatusUnprocessableEntity, true
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status, true
		}
	}
	return http.StatusInternalServerError, false
}

// publicMessage strips wrapping context from known errors.
func publicMessage(err error) string {
	var (
		reqErr      *requestError
		qtyErr      *order.InvalidQuantityError
		missingErr  *order.ProductNotFoundError
		providerErr *order.UnsupportedProviderError
		amountErr   *order.AmountMismatchError
		currencyErr *order.CurrencyMismatchError
		couponErr   *coupon.InvalidError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.Error()
	case errors.As(err, &qtyErr):
		return qtyErr.Error()
	case errors.As(err, &missingErr):
		return missingErr.Error()
	case errors.As(err, &providerErr):
		return providerErr.Error()
	case errors.As(err, &amountErr):
		return amountErr.Error()
	case errors.As(err, &currencyErr):
		return currencyErr.Error()
	case errors.As(err, &couponErr):
		return couponErr.Reason.Message()
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.err.Error()
		}
	}
	return "internal server error"
}

// writeError maps err to a status and writes
// {"code":<status>,"message":"...","reason":"..."}; reason is only set for
// invalid coupons.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, known := statusOf(err)
	if !known {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}

	var couponErr *coupon.InvalidError
	hasReason := errors.As(err, &couponErr)

	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(publicMessage(err))
		if hasReason {
			e.FieldStart("reason")
			e.Str(string(couponErr.Reason))
		}
		e.ObjEnd()
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusNotFound)
		e.FieldStart("message")
		e.Str("route " + r.URL.Path + " not found")
		e.ObjEnd()
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(http.StatusMethodNotAllowed)
		e.FieldStart("message")
		e.Str("method " + r.Method + " not allowed")
		e.ObjEnd()
	})
}
