package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/shopfront/internal/domain/coupon"
	"github.com/xenking/shopfront/internal/domain/order"
)

// ApplyCoupon prices a cart with a coupon without placing an order or
// consuming the coupon. Invalid coupons answer 400 with the reason.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code  string
		items []order.CartItem
	)
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "couponCode":
			code, err = optStr(d)
		case "items":
			items, err = decodeCartItems(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && coupon.NormalizeCode(code) == "" {
		err = badRequest("couponCode is required")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.orders.Quote(r.Context(), items, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("coupon")
		encodeCoupon(e, q.Coupon)
		e.FieldStart("items")
		encodeLineItems(e, q.Items)
		e.FieldStart("prices")
		encodePrices(e, q.Prices)
		e.ObjEnd()
	})
}
