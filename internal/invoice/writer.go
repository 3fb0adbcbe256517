// Package invoice stores paid order invoices as gzip compressed JSON
// documents on the local filesystem.
package invoice

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopfront/internal/domain/order"
)

// ErrNotFound is returned by Open for missing invoices.
var ErrNotFound = errors.New("invoice not found")

// Writer renders invoices into a directory.
type Writer struct {
	dir string
	now func() time.Time
}

var _ order.InvoiceRenderer = (*Writer)(nil)

// NewWriter creates dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("invoice directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrap(err, "create invoice directory")
	}
	return &Writer{dir: dir, now: time.Now}, nil
}

// Render writes the invoice of o and returns its path. The file appears
// atomically: readers never see a partial invoice.
func (w *Writer) Render(ctx context.Context, o *order.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if o.ID == "" || strings.ContainsAny(o.ID, `/\.`) {
		return "", errors.Errorf("invalid order id %q", o.ID)
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encodeInvoice(e, o, w.now().UTC())

	tmp, err := os.CreateTemp(w.dir, "invoice-*.tmp")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	gz := pgzip.NewWriter(tmp)
	if _, err := gz.Write(e.Bytes()); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "write invoice")
	}
	if err := gz.Close(); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "flush invoice")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close invoice")
	}

	path := filepath.Join(w.dir, "invoice-"+o.ID+".json.gz")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "move invoice into place")
	}
	return path, nil
}

// Open returns the decompressed invoice stored at path. Paths outside the
// writer's directory are refused.
func (w *Writer) Open(path string) (io.ReadCloser, error) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return nil, errors.Errorf("invoice path %q outside %q", path, w.dir)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "open invoice")
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "read invoice")
	}
	return &fileReader{Reader: gz, file: f}, nil
}

type fileReader struct {
	*pgzip.Reader
	file *os.File
}

func (r *fileReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func encodeInvoice(e *jx.Encoder, o *order.Order, issuedAt time.Time) {
	money := func(d decimal.Decimal) { e.Str(d.StringFixed(2)) }
	timestamp := func(t time.Time) { e.Str(t.UTC().Format(time.RFC3339)) }

	e.ObjStart()
	e.FieldStart("invoiceNumber")
	e.Str("INV-" + o.ID)
	e.FieldStart("orderId")
	e.Str(o.ID)
	e.FieldStart("issuedAt")
	timestamp(issuedAt)
	e.FieldStart("orderedAt")
	timestamp(o.CreatedAt)
	e.FieldStart("customerId")
	e.Str(o.UserID)

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

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("name")
		e.Str(it.Name)
		if it.SelectedSize != "" {
			e.FieldStart("size")
			e.Str(it.SelectedSize)
		}
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		money(it.UnitPrice)
		e.FieldStart("lineTotal")
		money(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2))
		e.ObjEnd()
	}
	e.ArrEnd()

	if c := o.AppliedCoupon; c != nil {
		e.FieldStart("coupon")
		e.ObjStart()
		e.FieldStart("code")
		e.Str(c.Code)
		e.FieldStart("discountType")
		e.Str(string(c.DiscountType))
		e.FieldStart("discountValue")
		money(c.DiscountValue)
		e.ObjEnd()
	}

	p := o.Prices
	e.FieldStart("totals")
	e.ObjStart()
	e.FieldStart("itemsPrice")
	money(p.ItemsPrice)
	e.FieldStart("discountAmount")
	money(p.DiscountAmount)
	e.FieldStart("discountedItemsPrice")
	money(p.DiscountedItemsPrice)
	e.FieldStart("taxPrice")
	money(p.TaxPrice)
	e.FieldStart("shippingPrice")
	money(p.ShippingPrice)
	e.FieldStart("totalPrice")
	money(p.TotalPrice)
	e.FieldStart("currency")
	e.Str(p.Currency)
	e.ObjEnd()

	e.FieldStart("payment")
	e.ObjStart()
	e.FieldStart("method")
	e.Str(string(o.PaymentMethod))
	if o.PaidAt != nil {
		e.FieldStart("paidAt")
		timestamp(*o.PaidAt)
	}
	if r := o.PaymentResult; r != nil {
		e.FieldStart("source")
		e.Str(string(r.Source))
		e.FieldStart("transactionId")
		e.Str(r.TransactionID)
		e.FieldStart("status")
		e.Str(r.Status)
		if r.PayerEmail != "" {
			e.FieldStart("payerEmail")
			e.Str(r.PayerEmail)
		}
	}
	e.ObjEnd()

	e.ObjEnd()
}
