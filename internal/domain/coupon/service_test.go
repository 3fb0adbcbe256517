package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockRepo struct {
	coupons map[string]*Coupon
	err     error
	lookups []string
}

func (m *mockRepo) FindByCode(_ context.Context, code string) (*Coupon, error) {
	m.lookups = append(m.lookups, code)
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.coupons[code]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) Upsert(_ context.Context, c *Coupon) error {
	m.coupons[c.Code] = c
	return nil
}

func newTestService(repo Repository, now time.Time) *Service {
	s := NewService(repo)
	s.now = func() time.Time { return now }
	return s
}

// --- Tests ---

func TestResolve(t *testing.T) {
	repo := &mockRepo{coupons: map[string]*Coupon{"SAVE10": validCoupon()}}
	svc := newTestService(repo, midWindow)

	c, err := svc.Resolve(context.Background(), "  save10 ")
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", c.Code)
	assert.Equal(t, []string{"SAVE10"}, repo.lookups)
}

func TestResolve_NotFound(t *testing.T) {
	svc := newTestService(&mockRepo{coupons: map[string]*Coupon{}}, midWindow)

	_, err := svc.Resolve(context.Background(), "NOPE")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonNotFound, invalid.Reason)
	assert.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestResolve_Expired(t *testing.T) {
	repo := &mockRepo{coupons: map[string]*Coupon{"SAVE10": validCoupon()}}
	svc := newTestService(repo, windowEnd.AddDate(0, 0, 1))

	_, err := svc.Resolve(context.Background(), "SAVE10")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, ReasonExpired, invalid.Reason)
}

func TestResolve_RepositoryError(t *testing.T) {
	dbErr := errors.New("connection refused")
	svc := newTestService(&mockRepo{err: dbErr}, midWindow)

	_, err := svc.Resolve(context.Background(), "SAVE10")
	require.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrInvalidCoupon)
}
