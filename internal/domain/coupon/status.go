package coupon

import "time"

// Status is the lifecycle state of a coupon at a given instant. It is always
// derived from the coupon and the evaluation time, never persisted.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusScheduled Status = "scheduled"
	StatusExhausted Status = "exhausted"
	StatusDisabled  Status = "disabled"
)

// ResolveStatus derives the status of c at now. The first matching rule wins:
// disabled, scheduled, expired, exhausted, active. Date checks take
// precedence over usage, so an exhausted coupon past its window is expired.
// Both window boundaries are inclusive.
func ResolveStatus(c *Coupon, now time.Time) Status {
	switch {
	case !c.IsActive:
		return StatusDisabled
	case now.Before(c.ValidFrom):
		return StatusScheduled
	case now.After(c.ValidUntil):
		return StatusExpired
	case c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit:
		return StatusExhausted
	default:
		return StatusActive
	}
}

// Reason explains why a coupon is not eligible.
type Reason string

const (
	ReasonDisabled             Reason = "Disabled"
	ReasonScheduled            Reason = "Scheduled"
	ReasonExpired              Reason = "Expired"
	ReasonExhausted            Reason = "Exhausted"
	ReasonBelowMinimumPurchase Reason = "BelowMinimumPurchase"
	ReasonNotApplicableToCart  Reason = "NotApplicableToCart"
	ReasonLimitReached         Reason = "LimitReached"
)

// statusReason maps a non-active status to its failure reason.
func statusReason(s Status) Reason {
	switch s {
	case StatusDisabled:
		return ReasonDisabled
	case StatusScheduled:
		return ReasonScheduled
	case StatusExpired:
		return ReasonExpired
	case StatusExhausted:
		return ReasonExhausted
	default:
		return ""
	}
}
