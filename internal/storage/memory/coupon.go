// Package memory provides an in-process coupon repository. It is used by
// tests and by single-node deployments that do not need durability.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

var _ coupon.Repository = (*CouponRepository)(nil)

type record struct {
	c       *coupon.Coupon
	deleted bool
}

// CouponRepository implements coupon.Repository on a mutex-guarded map.
// Values are copied on the way in and out.
type CouponRepository struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*record
	byCode map[string]uuid.UUID // live coupons only, keyed by upper-cased code
	order  []uuid.UUID          // insertion order
}

// NewCouponRepository returns an empty CouponRepository.
func NewCouponRepository() *CouponRepository {
	return &CouponRepository{
		byID:   make(map[uuid.UUID]*record),
		byCode: make(map[string]uuid.UUID),
	}
}

func codeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (r *CouponRepository) live(id uuid.UUID) (*record, bool) {
	rec, ok := r.byID[id]
	if !ok || rec.deleted {
		return nil, false
	}
	return rec, true
}

// FindByCode looks up a live coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCode[codeKey(code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return r.byID[id].c.Clone(), nil
}

// FindByID looks up a live coupon by ID.
func (r *CouponRepository) FindByID(_ context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return rec.c.Clone(), nil
}

// List returns live coupons, newest first.
func (r *CouponRepository) List(_ context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	filter = filter.Normalize()
	needle := strings.ToUpper(filter.CodeContains)

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		out     []coupon.Coupon
		skipped int
	)
	for _, id := range slices.Backward(r.order) {
		rec := r.byID[id]
		if rec.deleted || !strings.Contains(strings.ToUpper(rec.c.Code), needle) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, *rec.c.Clone())
		if len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Create inserts c. ErrCodeTaken is returned when a live coupon uses the same code.
func (r *CouponRepository) Create(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := codeKey(c.Code)
	if _, taken := r.byCode[key]; taken {
		return coupon.ErrCodeTaken
	}
	if _, exists := r.byID[c.ID]; exists {
		return coupon.ErrCodeTaken
	}

	r.byID[c.ID] = &record{c: c.Clone()}
	r.byCode[key] = c.ID
	r.order = append(r.order, c.ID)
	return nil
}

// Save writes the definition fields of c under optimistic concurrency. The
// stored usage counter is kept and copied back into c.
func (r *CouponRepository) Save(_ context.Context, c *coupon.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(c.ID)
	if !ok {
		return coupon.ErrNotFound
	}
	if rec.c.Version != c.Version {
		return coupon.ErrConflict
	}
	// The counter may have moved since c was loaded.
	if c.UsageLimit > 0 && rec.c.UsageCount > c.UsageLimit {
		return coupon.ErrConflict
	}

	oldKey, newKey := codeKey(rec.c.Code), codeKey(c.Code)
	if oldKey != newKey {
		if _, taken := r.byCode[newKey]; taken {
			return coupon.ErrCodeTaken
		}
		delete(r.byCode, oldKey)
		r.byCode[newKey] = c.ID
	}

	c.Version++
	c.UsageCount = rec.c.UsageCount
	c.CreatedAt = rec.c.CreatedAt
	rec.c = c.Clone()
	return nil
}

// Delete soft-deletes the coupon id. Its usage counter is retained.
func (r *CouponRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return coupon.ErrNotFound
	}
	rec.deleted = true
	delete(r.byCode, codeKey(rec.c.Code))
	return nil
}

// IncrementUsage bumps the usage counter of id if its limit allows.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id uuid.UUID) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.live(id)
	if !ok {
		return 0, false, coupon.ErrNotFound
	}
	c := rec.c
	if c.UsageLimit > 0 && c.UsageCount >= c.UsageLimit {
		return c.UsageCount, false, nil
	}
	c.UsageCount++
	return c.UsageCount, true, nil
}
