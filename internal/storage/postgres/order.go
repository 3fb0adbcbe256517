package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shopfront/internal/domain/order"
)

const (
	orderColumns = `id, user_id, line_items, shipping_address, payment_method, applied_coupon,
		items_price, discount_amount, discounted_items_price, tax_price, shipping_price, total_price, currency,
		is_paid, paid_at, payment_transaction_id, payment_status, payment_update_time, payment_payer_email, payment_source,
		is_delivered, delivered_at, invoice_path, created_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, line_items, shipping_address, payment_method, applied_coupon,
			items_price, discount_amount, discounted_items_price, tax_price, shipping_price, total_price, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT $1`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	transactionUsedSQL = `SELECT EXISTS (
		SELECT 1 FROM orders WHERE payment_transaction_id = $1 AND id <> $2)`

	markPaidSQL = `UPDATE orders SET
			is_paid = TRUE,
			paid_at = $2,
			payment_transaction_id = $3,
			payment_status = $4,
			payment_update_time = $5,
			payment_payer_email = $6,
			payment_source = $7
		WHERE id = $1 AND is_paid = FALSE`

	markDeliveredSQL = `UPDATE orders SET is_delivered = TRUE, delivered_at = $2
		WHERE id = $1 AND is_paid = TRUE`

	setInvoicePathSQL = `UPDATE orders SET invoice_path = $2 WHERE id = $1`

	paymentTransactionIndex = "orders_payment_transaction_idx"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the order and, when a coupon was applied, consumes one use
// of it in the same transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}
	var applied []byte
	if o.AppliedCoupon != nil {
		if applied, err = json.Marshal(o.AppliedCoupon); err != nil {
			return fmt.Errorf("marshaling applied coupon: %w", err)
		}
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		p := o.Prices
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, items, address, string(o.PaymentMethod), applied,
			p.ItemsPrice, p.DiscountAmount, p.DiscountedItemsPrice, p.TaxPrice, p.ShippingPrice, p.TotalPrice, p.Currency,
			o.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("creating order %q: %w", o.ID, err)
		}
		if o.AppliedCoupon == nil {
			return nil
		}
		return consumeCoupon(ctx, tx, o.AppliedCoupon.Code)
	})
}

// GetByID returns order.ErrOrderNotFound for unknown ids.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns a user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListAll returns up to limit orders, newest first.
func (r *OrderRepository) ListAll(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// TransactionUsed reports whether txID already paid an order other than
// excludeOrderID.
func (r *OrderRepository) TransactionUsed(ctx context.Context, txID, excludeOrderID string) (bool, error) {
	var used bool
	if err := r.pool.QueryRow(ctx, transactionUsedSQL, txID, excludeOrderID).Scan(&used); err != nil {
		return false, fmt.Errorf("checking transaction %q: %w", txID, err)
	}
	return used, nil
}

// MarkPaid is a compare-and-swap on is_paid. Losing the race yields
// order.ErrAlreadyPaid; reusing a transaction id trips the unique index and
// yields order.ErrDuplicateTransaction.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, res order.PaymentResult, paidAt time.Time) error {
	tag, err := r.pool.Exec(ctx, markPaidSQL,
		id, paidAt, res.TransactionID, res.Status, nullTime(res.UpdateTime), nullString(res.PayerEmail), string(res.Source),
	)
	if err != nil {
		if isUniqueViolation(err, paymentTransactionIndex) {
			return order.ErrDuplicateTransaction
		}
		return fmt.Errorf("marking order %q paid: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.notFoundOr(ctx, id, order.ErrAlreadyPaid)
	}
	return nil
}

// MarkDelivered only touches paid orders.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, markDeliveredSQL, id, at)
	if err != nil {
		return fmt.Errorf("marking order %q delivered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.notFoundOr(ctx, id, order.ErrOrderNotPaid)
	}
	return nil
}

// SetInvoicePath records where the invoice of an order was written.
func (r *OrderRepository) SetInvoicePath(ctx context.Context, id, path string) error {
	tag, err := r.pool.Exec(ctx, setInvoicePathSQL, id, path)
	if err != nil {
		return fmt.Errorf("setting invoice path of %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// notFoundOr explains a conditional update that matched no rows.
func (r *OrderRepository) notFoundOr(ctx context.Context, id string, conflict error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrOrderNotFound
	}
	return conflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o          order.Order
		items      []byte
		address    []byte
		applied    []byte
		method     string
		txID       *string
		status     *string
		updateTime *time.Time
		payerEmail *string
		source     *string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &address, &method, &applied,
		&o.Prices.ItemsPrice, &o.Prices.DiscountAmount, &o.Prices.DiscountedItemsPrice,
		&o.Prices.TaxPrice, &o.Prices.ShippingPrice, &o.Prices.TotalPrice, &o.Prices.Currency,
		&o.IsPaid, &o.PaidAt, &txID, &status, &updateTime, &payerEmail, &source,
		&o.IsDelivered, &o.DeliveredAt, &o.InvoicePath, &o.CreatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}

	o.PaymentMethod = order.Provider(method)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("decoding line items of %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return order.Order{}, fmt.Errorf("decoding shipping address of %q: %w", o.ID, err)
	}
	if len(applied) > 0 {
		var ac order.AppliedCoupon
		if err := json.Unmarshal(applied, &ac); err != nil {
			return order.Order{}, fmt.Errorf("decoding applied coupon of %q: %w", o.ID, err)
		}
		o.AppliedCoupon = &ac
	}
	if txID != nil {
		o.PaymentResult = &order.PaymentResult{
			TransactionID: *txID,
			Status:        deref(status),
			PayerEmail:    deref(payerEmail),
			Source:        order.Provider(deref(source)),
		}
		if updateTime != nil {
			o.PaymentResult.UpdateTime = *updateTime
		}
	}
	return o, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
