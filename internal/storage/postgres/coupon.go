package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/shopfront/internal/domain/coupon"
)

const (
	couponColumns = `code, description, discount_type, discount_value, minimum_purchase_amount,
		valid_from, valid_until, is_active, usage_limit_total, times_used`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE UPPER(code) = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, discount_value,
			minimum_purchase_amount, valid_from, valid_until, is_active, usage_limit_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			minimum_purchase_amount = EXCLUDED.minimum_purchase_amount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_active = EXCLUDED.is_active,
			usage_limit_total = EXCLUDED.usage_limit_total`

	// Increments in place and refuses to go past the usage cap, so
	// concurrent redemptions can neither lose updates nor overshoot.
	consumeCouponSQL = `UPDATE coupons SET times_used = times_used + 1
		WHERE UPPER(code) = UPPER($1)
			AND (usage_limit_total IS NULL OR times_used < usage_limit_total)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by code, case-insensitively, whatever its
// state. Returns coupon.ErrCouponNotFound when the code is unknown.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// Upsert writes a coupon definition. The usage counter of an existing coupon
// is left alone.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, upsertCouponSQL,
		c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinimumPurchaseAmount, c.ValidFrom, c.ValidUntil, c.IsActive, c.UsageLimitTotal,
	)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

// consumeCoupon counts one redemption inside tx.
func consumeCoupon(ctx context.Context, tx pgx.Tx, code string) error {
	tag, err := tx.Exec(ctx, consumeCouponSQL, code)
	if err != nil {
		return fmt.Errorf("incrementing uses for coupon %q: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return &coupon.InvalidError{Code: code, Reason: coupon.ReasonUsageLimitReached}
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.Code, &c.Description, &discountType, &c.DiscountValue, &c.MinimumPurchaseAmount,
		&c.ValidFrom, &c.ValidUntil, &c.IsActive, &c.UsageLimitTotal, &c.TimesUsed,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
