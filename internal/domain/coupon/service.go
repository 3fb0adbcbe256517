package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// Resolver turns a client supplied code into a usable coupon.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*Coupon, error)
}

// Service resolves coupon codes against a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

var _ Resolver = (*Service)(nil)

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Resolve looks the code up and checks its validity window and usage cap.
// Unknown codes yield an *InvalidError with ReasonNotFound. Minimum purchase
// is left to the pricing step, which knows the subtotal.
func (s *Service) Resolve(ctx context.Context, code string) (*Coupon, error) {
	code = NormalizeCode(code)
	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, &InvalidError{Code: code, Reason: ReasonNotFound}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}
	if err := c.Validate(s.now()); err != nil {
		return nil, err
	}
	return c, nil
}

// NormalizeCode trims and upper-cases a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
