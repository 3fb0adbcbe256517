package handler

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/order"
	"github.com/xenking/shopfront/internal/domain/pricing"
	"github.com/xenking/shopfront/internal/domain/product"
)

const maxBodyBytes = 1 << 20

// requestError is a malformed or incomplete request body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeBody reads the whole body and walks its top level object with fn.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("read body: %s", err)
	}
	if len(data) == 0 {
		return badRequest("request body is empty")
	}
	err = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	})
	if err != nil {
		var re *requestError
		if errors.As(err, &re) {
			return re
		}
		return badRequest("invalid JSON: %s", err)
	}
	return nil
}

// optStr decodes a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeCartItems(d *jx.Decoder) ([]order.CartItem, error) {
	var items []order.CartItem
	err := d.Arr(func(d *jx.Decoder) error {
		var it order.CartItem
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "productId":
				it.ProductID, err = d.Str()
			case "quantity":
				it.Quantity, err = d.Int()
			case "selectedSize":
				it.SelectedSize, err = optStr(d)
			case "customizations":
				if d.Next() == jx.Null {
					return d.Null()
				}
				it.Customizations = make(map[string]string)
				err = d.ObjBytes(func(d *jx.Decoder, k []byte) error {
					v, err := d.Str()
					it.Customizations[string(k)] = v
					return err
				})
			default:
				err = d.Skip()
			}
			return err
		})
		if err != nil {
			return err
		}
		if it.ProductID == "" {
			return badRequest("productId is required")
		}
		items = append(items, it)
		return nil
	})
	return items, err
}

func decodeAddress(d *jx.Decoder) (order.ShippingAddress, error) {
	var a order.ShippingAddress
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "address":
			a.Address, err = d.Str()
		case "city":
			a.City, err = d.Str()
		case "postalCode":
			a.PostalCode, err = d.Str()
		case "country":
			a.Country, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return a, err
}

// writeJSON writes status and the document produced by fn.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	fn(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	base := h.imageBaseURL
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("price")
	money(e, p.Price)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("countInStock")
	e.Int(p.CountInStock)
	e.FieldStart("image")
	e.ObjStart()
	e.FieldStart("thumbnail")
	e.Str(base + p.Image.Thumbnail)
	e.FieldStart("mobile")
	e.Str(base + p.Image.Mobile)
	e.FieldStart("tablet")
	e.Str(base + p.Image.Tablet)
	e.FieldStart("desktop")
	e.Str(base + p.Image.Desktop)
	e.ObjEnd()
	e.ObjEnd()
}

func encodeLineItems(e *jx.Encoder, items []order.LineItem) {
	e.ArrStart()
	for _, it := range items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("unitPrice")
		money(e, it.UnitPrice)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		if it.SelectedSize != "" {
			e.FieldStart("selectedSize")
			e.Str(it.SelectedSize)
		}
		if len(it.Customizations) > 0 {
			keys := make([]string, 0, len(it.Customizations))
			for k := range it.Customizations {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			e.FieldStart("customizations")
			e.ObjStart()
			for _, k := range keys {
				e.FieldStart(k)
				e.Str(it.Customizations[k])
			}
			e.ObjEnd()
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeCoupon(e *jx.Encoder, c *order.AppliedCoupon) {
	e.ObjStart()
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("discountValue")
	money(e, c.DiscountValue)
	e.ObjEnd()
}

func encodePrices(e *jx.Encoder, p pricing.Breakdown) {
	e.ObjStart()
	e.FieldStart("itemsPrice")
	money(e, p.ItemsPrice)
	e.FieldStart("discountAmount")
	money(e, p.DiscountAmount)
	e.FieldStart("discountedItemsPrice")
	money(e, p.DiscountedItemsPrice)
	e.FieldStart("taxPrice")
	money(e, p.TaxPrice)
	e.FieldStart("shippingPrice")
	money(e, p.ShippingPrice)
	e.FieldStart("totalPrice")
	money(e, p.TotalPrice)
	e.FieldStart("currency")
	e.Str(p.Currency)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("items")
	encodeLineItems(e, o.Items)

	e.FieldStart("shippingAddress")
	e.ObjStart()
	e.FieldStart("address")
	e.Str(o.ShippingAddress.Address)
	e.FieldStart("city")
	e.Str(o.ShippingAddress.City)
	e.FieldStart("postalCode")
	e.Str(o.ShippingAddress.PostalCode)
	e.FieldStart("country")
	e.Str(o.ShippingAddress.Country)
	e.ObjEnd()

	e.FieldStart("paymentMethod")
	e.Str(string(o.PaymentMethod))
	if o.AppliedCoupon != nil {
		e.FieldStart("coupon")
		encodeCoupon(e, o.AppliedCoupon)
	}
	e.FieldStart("prices")
	encodePrices(e, o.Prices)

	e.FieldStart("isPaid")
	e.Bool(o.IsPaid)
	if o.PaidAt != nil {
		e.FieldStart("paidAt")
		timestamp(e, *o.PaidAt)
	}
	if r := o.PaymentResult; r != nil {
		e.FieldStart("paymentResult")
		e.ObjStart()
		e.FieldStart("transactionId")
		e.Str(r.TransactionID)
		e.FieldStart("status")
		e.Str(r.Status)
		e.FieldStart("source")
		e.Str(string(r.Source))
		if !r.UpdateTime.IsZero() {
			e.FieldStart("updateTime")
			timestamp(e, r.UpdateTime)
		}
		if r.PayerEmail != "" {
			e.FieldStart("payerEmail")
			e.Str(r.PayerEmail)
		}
		e.ObjEnd()
	}
	e.FieldStart("isDelivered")
	e.Bool(o.IsDelivered)
	if o.DeliveredAt != nil {
		e.FieldStart("deliveredAt")
		timestamp(e, *o.DeliveredAt)
	}
	e.FieldStart("hasInvoice")
	e.Bool(o.InvoicePath != "")
	e.FieldStart("createdAt")
	timestamp(e, o.CreatedAt)
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}
