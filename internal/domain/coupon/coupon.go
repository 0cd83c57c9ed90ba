package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the cart total, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed monetary amount capped at the cart total.
	DiscountFixed DiscountType = "fixed"
	// DiscountShipping waives the shipping cost supplied by the caller.
	DiscountShipping DiscountType = "shipping"
	// DiscountBuyXGetY is gated by the engine only; the free items are
	// resolved by the caller's cart-line logic.
	DiscountBuyXGetY DiscountType = "buyXgetY"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	switch t {
	case DiscountPercentage, DiscountFixed, DiscountShipping, DiscountBuyXGetY:
		return true
	default:
		return false
	}
}

// Scope selects what part of the catalog a coupon targets.
type Scope string

const (
	ScopeAll        Scope = "all"
	ScopeCategories Scope = "categories"
	ScopeProducts   Scope = "products"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeAll, ScopeCategories, ScopeProducts:
		return true
	default:
		return false
	}
}

var (
	// ErrNotFound is returned when no live coupon matches a code or ID.
	ErrNotFound = errors.New("coupon not found")
	// ErrCodeTaken is returned when another live coupon already uses the code.
	ErrCodeTaken = errors.New("coupon code already exists")
	// ErrConflict is returned when a definition was edited concurrently.
	ErrConflict = errors.New("coupon was modified concurrently")
	// ErrInvalidContext is returned for a redemption context with negative amounts.
	ErrInvalidContext = errors.New("invalid redemption context")
)

// Coupon is a coupon definition together with its redemption counter.
//
// Definition fields are owned by administrators and change through
// Repository.Save. UsageCount is owned by the redemption flow and only
// changes through UsageStore.IncrementUsage.
type Coupon struct {
	ID            uuid.UUID
	Code          string
	DiscountType  DiscountType
	Value         decimal.Decimal
	MinPurchase   decimal.Decimal
	MaxDiscount   decimal.NullDecimal
	ValidFrom     time.Time
	ValidUntil    time.Time
	UsageLimit    int
	UsageCount    int
	AppliesTo     Scope
	ApplicableIDs []string
	IsActive      bool
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy of c.
func (c *Coupon) Clone() *Coupon {
	out := *c
	if c.ApplicableIDs != nil {
		out.ApplicableIDs = append([]string(nil), c.ApplicableIDs...)
	}
	return &out
}

// Unlimited reports whether the coupon has no usage ceiling.
func (c *Coupon) Unlimited() bool {
	return c.UsageLimit == 0
}

// RedemptionContext is the caller-supplied cart state a coupon is evaluated against.
type RedemptionContext struct {
	// Now is the evaluation instant. The engine never reads the system clock.
	Now       time.Time
	CartTotal decimal.Decimal
	// ShippingCost is the caller's shipping quote, consumed by shipping coupons.
	ShippingCost decimal.Decimal
	ItemIDs      []string
	CategoryIDs  []string
}

func (rc RedemptionContext) validate() error {
	if rc.CartTotal.IsNegative() {
		return errors.Wrap(ErrInvalidContext, "negative cart total")
	}
	if rc.ShippingCost.IsNegative() {
		return errors.Wrap(ErrInvalidContext, "negative shipping cost")
	}
	return nil
}

// ListFilter narrows Repository.List results.
type ListFilter struct {
	// CodeContains matches codes case-insensitively by substring.
	CodeContains string
	Limit        int
	Offset       int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Normalize clamps pagination to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// UsageStore performs the persistence-level atomic check-and-increment.
type UsageStore interface {
	// IncrementUsage increments the usage counter of the live coupon id only
	// if its stored limit is zero or not yet reached. It returns the new
	// count and true on success, or false when the limit was reached.
	// ErrNotFound is returned for unknown or deleted coupons.
	IncrementUsage(ctx context.Context, id uuid.UUID) (newCount int, ok bool, err error)
}

// Repository provides lookup and mutation of coupons.
type Repository interface {
	UsageStore

	FindByCode(ctx context.Context, code string) (*Coupon, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Coupon, error)
	List(ctx context.Context, filter ListFilter) ([]Coupon, error)
	// Create inserts a new coupon. ErrCodeTaken is returned on a code clash.
	Create(ctx context.Context, c *Coupon) error
	// Save writes the definition fields of c if the stored Version still
	// equals c.Version, and bumps c.Version. It never writes UsageCount.
	Save(ctx context.Context, c *Coupon) error
	// Delete removes the coupon from future lookups. Committed usage is kept.
	Delete(ctx context.Context, id uuid.UUID) error
}
