package coupon

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InvariantViolation rejects a definition mutation before it reaches storage.
type InvariantViolation struct {
	Field string
	Msg   string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invalid coupon %s: %s", e.Field, e.Msg)
}

func violation(field, msg string) error {
	return &InvariantViolation{Field: field, Msg: msg}
}

// Check validates d as a new coupon without storing it.
func (d Definition) Check() error {
	return CheckInvariants(newCoupon(d))
}

// Definition holds the administrator-owned fields of a coupon.
type Definition struct {
	Code          string
	DiscountType  DiscountType
	Value         decimal.Decimal
	MinPurchase   decimal.Decimal
	MaxDiscount   decimal.NullDecimal
	ValidFrom     time.Time
	ValidUntil    time.Time
	UsageLimit    int
	AppliesTo     Scope
	ApplicableIDs []string
	IsActive      bool
}

// Patch is a partial definition update. Nil fields are left unchanged.
type Patch struct {
	Code          *string
	DiscountType  *DiscountType
	Value         *decimal.Decimal
	MinPurchase   *decimal.Decimal
	MaxDiscount   *decimal.NullDecimal
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	UsageLimit    *int
	AppliesTo     *Scope
	ApplicableIDs *[]string
	IsActive      *bool
}

// apply copies the set fields of p onto c.
func (p Patch) apply(c *Coupon) {
	if p.Code != nil {
		c.Code = strings.TrimSpace(*p.Code)
	}
	if p.DiscountType != nil {
		c.DiscountType = *p.DiscountType
	}
	if p.Value != nil {
		c.Value = *p.Value
	}
	if p.MinPurchase != nil {
		c.MinPurchase = *p.MinPurchase
	}
	if p.MaxDiscount != nil {
		c.MaxDiscount = *p.MaxDiscount
	}
	if p.ValidFrom != nil {
		c.ValidFrom = *p.ValidFrom
	}
	if p.ValidUntil != nil {
		c.ValidUntil = *p.ValidUntil
	}
	if p.UsageLimit != nil {
		c.UsageLimit = *p.UsageLimit
	}
	if p.AppliesTo != nil {
		c.AppliesTo = *p.AppliesTo
	}
	if p.ApplicableIDs != nil {
		c.ApplicableIDs = append([]string(nil), (*p.ApplicableIDs)...)
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
}

// newCoupon builds an unsaved coupon from d with an empty usage counter.
func newCoupon(d Definition) *Coupon {
	c := &Coupon{
		Code:          strings.TrimSpace(d.Code),
		DiscountType:  d.DiscountType,
		Value:         d.Value,
		MinPurchase:   d.MinPurchase,
		MaxDiscount:   d.MaxDiscount,
		ValidFrom:     d.ValidFrom,
		ValidUntil:    d.ValidUntil,
		UsageLimit:    d.UsageLimit,
		AppliesTo:     d.AppliesTo,
		ApplicableIDs: append([]string(nil), d.ApplicableIDs...),
		IsActive:      d.IsActive,
	}
	if c.AppliesTo == "" {
		c.AppliesTo = ScopeAll
	}
	return c
}

// CheckInvariants validates the definition fields of c and the usage
// ceiling against its current counter.
func CheckInvariants(c *Coupon) error {
	if strings.TrimSpace(c.Code) == "" {
		return violation("code", "must not be empty")
	}
	if !c.DiscountType.Valid() {
		return violation("discountType", fmt.Sprintf("unsupported discount type %q", c.DiscountType))
	}
	if c.Value.IsNegative() {
		return violation("value", "must be non-negative")
	}
	if c.DiscountType == DiscountPercentage && c.Value.GreaterThan(hundred) {
		return violation("value", "percentage must not exceed 100")
	}
	if c.MinPurchase.IsNegative() {
		return violation("minPurchase", "must be non-negative")
	}
	if c.MaxDiscount.Valid && c.MaxDiscount.Decimal.IsNegative() {
		return violation("maxDiscount", "must be non-negative")
	}
	if c.ValidFrom.IsZero() || c.ValidUntil.IsZero() {
		return violation("validity", "validFrom and validUntil are required")
	}
	if c.ValidFrom.After(c.ValidUntil) {
		return violation("validity", "validFrom must not be after validUntil")
	}
	if c.UsageLimit < 0 {
		return violation("usageLimit", "must be non-negative")
	}
	if c.UsageLimit > 0 && c.UsageCount > c.UsageLimit {
		return violation("usageLimit", fmt.Sprintf("must not be below current usage %d", c.UsageCount))
	}
	if !c.AppliesTo.Valid() {
		return violation("appliesTo", fmt.Sprintf("unsupported scope %q", c.AppliesTo))
	}
	if c.AppliesTo == ScopeAll && len(c.ApplicableIDs) > 0 {
		return violation("applicableIds", "must be empty when the coupon applies to all")
	}
	if c.AppliesTo != ScopeAll && len(c.ApplicableIDs) == 0 {
		return violation("applicableIds", fmt.Sprintf("required when the coupon applies to %s", c.AppliesTo))
	}
	for _, id := range c.ApplicableIDs {
		if strings.TrimSpace(id) == "" {
			return violation("applicableIds", "must not contain empty IDs")
		}
	}
	return nil
}
