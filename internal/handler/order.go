package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/shopfront/internal/domain/order"
)

// PlaceOrder creates an order for the calling principal.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req := order.PlaceOrderRequest{UserID: mustPrincipal(r).ID}
	err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			req.Items, err = decodeCartItems(d)
		case "shippingAddress":
			req.ShippingAddress, err = decodeAddress(d)
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		case "couponCode":
			req.CouponCode, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ListMyOrders returns the caller's orders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), mustPrincipal(r).ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrders(e, orders)
	})
}

// GetOrder returns an order to its owner or an admin.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.ownedOrder(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ListAllOrders returns recent orders of every user. Admin only.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, badRequest("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	orders, err := h.orders.ListAll(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrders(e, orders)
	})
}

// DeliverOrder marks a paid order delivered. Admin only.
func (h *Handler) DeliverOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.MarkDelivered(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

// ownedOrder loads the order named in the path and checks that the caller
// owns it or is an admin.
func (h *Handler) ownedOrder(r *http.Request) (*order.Order, error) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		return nil, err
	}
	if p := mustPrincipal(r); o.UserID != p.ID && !p.IsAdmin() {
		return nil, errForbidden
	}
	return o, nil
}
