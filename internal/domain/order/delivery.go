package order

import (
	"context"

	"github.com/go-faster/errors"
)

// MarkDelivered records delivery of a paid order. Repeated calls succeed and
// move DeliveredAt forward.
func (s *Service) MarkDelivered(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if !o.IsPaid {
		return nil, ErrOrderNotPaid
	}

	at := s.now().UTC()
	if err := s.orders.MarkDelivered(ctx, o.ID, at); err != nil {
		return nil, errors.Wrap(err, "mark delivered")
	}

	o.IsDelivered = true
	o.DeliveredAt = &at
	return o, nil
}
