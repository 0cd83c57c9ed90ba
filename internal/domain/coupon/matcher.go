package coupon

// Match is the outcome of an applicability check.
type Match struct {
	OK     bool
	Reason Reason
}

// IsApplicable checks the coupon's targeting rules against the cart. The
// minimum purchase is checked first, then the product or category scope.
// IDs are compared by exact equality; hierarchies must be flattened by the
// caller.
func IsApplicable(c *Coupon, rc RedemptionContext) Match {
	if rc.CartTotal.LessThan(c.MinPurchase) {
		return Match{Reason: ReasonBelowMinimumPurchase}
	}

	switch c.AppliesTo {
	case ScopeProducts:
		if !intersects(c.ApplicableIDs, rc.ItemIDs) {
			return Match{Reason: ReasonNotApplicableToCart}
		}
	case ScopeCategories:
		if !intersects(c.ApplicableIDs, rc.CategoryIDs) {
			return Match{Reason: ReasonNotApplicableToCart}
		}
	}

	return Match{OK: true}
}

// intersects reports whether targets and cart share at least one ID.
func intersects(targets, cart []string) bool {
	if len(targets) == 0 || len(cart) == 0 {
		return false
	}
	// Index the smaller side.
	small, large := targets, cart
	if len(small) > len(large) {
		small, large = large, small
	}
	set := make(map[string]struct{}, len(small))
	for _, id := range small {
		set[id] = struct{}{}
	}
	for _, id := range large {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
