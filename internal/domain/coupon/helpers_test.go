package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

var (
	windowStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	midWindow   = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
)

// newTestCoupon returns an active, unlimited, all-scope coupon valid in March 2025.
func newTestCoupon(mods ...func(*Coupon)) *Coupon {
	c := &Coupon{
		ID:           uuid.New(),
		Code:         "SPRING25",
		DiscountType: DiscountFixed,
		Value:        d("10"),
		MinPurchase:  decimal.Zero,
		ValidFrom:    windowStart,
		ValidUntil:   windowEnd,
		AppliesTo:    ScopeAll,
		IsActive:     true,
		Version:      1,
	}
	for _, m := range mods {
		m(c)
	}
	return c
}

// fakeUsageStore is an in-process UsageStore guarded by a mutex.
type fakeUsageStore struct {
	mu      sync.Mutex
	coupons map[uuid.UUID]*Coupon
}

func newFakeUsageStore(coupons ...*Coupon) *fakeUsageStore {
	s := &fakeUsageStore{coupons: make(map[uuid.UUID]*Coupon, len(coupons))}
	for _, c := range coupons {
		s.coupons[c.ID] = c.Clone()
	}
	return s
}

func (s *fakeUsageStore) IncrementUsage(_ context.Context, id uuid.UUID) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[id]
	if !ok {
		return 0, false, ErrNotFound
	}
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return c.UsageCount, false, nil
	}
	c.UsageCount++
	return c.UsageCount, true, nil
}

func (s *fakeUsageStore) count(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coupons[id].UsageCount
}
