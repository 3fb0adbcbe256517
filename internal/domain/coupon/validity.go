package coupon

import "time"

// Reason names the first validity rule a coupon failed.
type Reason string

// Coupon rejection reasons, reported to clients verbatim.
const (
	ReasonNone                  Reason = ""
	ReasonNotFound              Reason = "not_found"
	ReasonInactive              Reason = "inactive"
	ReasonNotYetValid           Reason = "not_yet_valid"
	ReasonExpired               Reason = "expired"
	ReasonUsageLimitReached     Reason = "usage_limit_reached"
	ReasonMinimumPurchaseNotMet Reason = "minimum_purchase_not_met"
)

// Message returns a human readable description of the reason.
func (r Reason) Message() string {
	switch r {
	case ReasonNone:
		return "coupon is valid"
	case ReasonNotFound:
		return "coupon not found"
	case ReasonInactive:
		return "coupon is not active"
	case ReasonNotYetValid:
		return "coupon is not yet valid"
	case ReasonExpired:
		return "coupon has expired"
	case ReasonUsageLimitReached:
		return "coupon usage limit reached"
	case ReasonMinimumPurchaseNotMet:
		return "minimum purchase amount not met"
	default:
		return string(r)
	}
}

type rule struct {
	reason   Reason
	violated func(c *Coupon, now time.Time) bool
}

// Evaluated in order; the first violated rule names the reason.
var validityRules = []rule{
	{ReasonInactive, func(c *Coupon, _ time.Time) bool { return !c.IsActive }},
	{ReasonNotYetValid, func(c *Coupon, now time.Time) bool { return now.Before(c.ValidFrom) }},
	{ReasonExpired, func(c *Coupon, now time.Time) bool { return now.After(c.ValidUntil) }},
	{ReasonUsageLimitReached, func(c *Coupon, _ time.Time) bool {
		return c.UsageLimitTotal != nil && c.TimesUsed >= *c.UsageLimitTotal
	}},
}

// Check returns the reason c is unusable at now, or ReasonNone.
// Both ends of the validity window are inclusive.
func Check(c *Coupon, now time.Time) Reason {
	for _, r := range validityRules {
		if r.violated(c, now) {
			return r.reason
		}
	}
	return ReasonNone
}

// IsValid reports whether c can be applied at now.
func IsValid(c *Coupon, now time.Time) bool {
	return Check(c, now) == ReasonNone
}

// Validate is Check in error form: nil when valid, *InvalidError otherwise.
func (c *Coupon) Validate(now time.Time) error {
	if reason := Check(c, now); reason != ReasonNone {
		return &InvalidError{Code: c.Code, Reason: reason}
	}
	return nil
}
