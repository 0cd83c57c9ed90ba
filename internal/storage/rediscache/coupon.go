// Package rediscache provides a read-through Redis cache in front of a
// coupon.Repository.
package rediscache

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

// DefaultTTL is used when no TTL is configured.
const DefaultTTL = 5 * time.Minute

const (
	keyPrefix = "coupon:"
	// genTTL outlives any in-flight read-through fill.
	genTTL = 24 * time.Hour
)

var errStaleFill = errors.New("coupon changed during fill")

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository caches coupon lookups in Redis and delegates everything
// else to the wrapped repository. Writes invalidate the cached entry. Redis
// failures are logged and never fail a call.
//
// Every invalidation bumps a per-coupon generation. A fill is written only
// if the generation it read before loading is still current, so a row
// loaded before a write is never cached after that write.
//
// The usage counter is read from the cache and may lag; the wrapped
// repository's IncrementUsage remains authoritative for the limit.
type CouponRepository struct {
	next coupon.Repository
	rdb  redis.UniversalClient
	ttl  time.Duration
}

// New wraps next with a cache stored in rdb.
func New(next coupon.Repository, rdb redis.UniversalClient, ttl time.Duration) *CouponRepository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CouponRepository{next: next, rdb: rdb, ttl: ttl}
}

func codeKey(code string) string {
	return keyPrefix + "code:" + strings.ToUpper(strings.TrimSpace(code))
}

func idKey(id uuid.UUID) string {
	return keyPrefix + "id:" + id.String()
}

func genKey(id uuid.UUID) string {
	return keyPrefix + "gen:" + id.String()
}

// FindByCode resolves code through the cached code index, falling back to
// the wrapped repository on any miss or stale entry.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	if id, err := r.rdb.Get(ctx, codeKey(code)).Result(); err == nil {
		if parsed, err := uuid.Parse(id); err == nil {
			// A renamed coupon leaves the old code pointing at it.
			if c, ok := r.get(ctx, parsed); ok && strings.EqualFold(c.Code, strings.TrimSpace(code)) {
				return c, nil
			}
		}
	} else if !errors.Is(err, redis.Nil) {
		r.warn(ctx, "Cache read failed", err)
	}

	c, err := r.next.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	gen, ok := r.generation(ctx, c.ID)
	if !ok {
		return c, nil
	}

	// c was loaded before its generation was known; only a reload may fill.
	fresh, err := r.next.FindByID(ctx, c.ID)
	if err != nil || !strings.EqualFold(fresh.Code, c.Code) {
		return c, nil
	}
	r.put(ctx, fresh, gen)
	return fresh, nil
}

// FindByID returns the cached coupon id or loads it from the wrapped repository.
func (r *CouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	if c, ok := r.get(ctx, id); ok {
		return c, nil
	}

	gen, cacheable := r.generation(ctx, id)
	c, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cacheable {
		r.put(ctx, c, gen)
	}
	return c, nil
}

// List is never cached.
func (r *CouponRepository) List(ctx context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	return r.next.List(ctx, filter)
}

// Create delegates to the wrapped repository.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	return r.next.Create(ctx, c)
}

// Save delegates to the wrapped repository and drops the cached entry.
func (r *CouponRepository) Save(ctx context.Context, c *coupon.Coupon) error {
	if err := r.next.Save(ctx, c); err != nil {
		return err
	}
	r.invalidate(ctx, c.ID)
	return nil
}

// Delete delegates to the wrapped repository and drops the cached entry.
func (r *CouponRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.next.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// IncrementUsage delegates to the wrapped repository and drops the cached
// entry after a successful increment.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id uuid.UUID) (int, bool, error) {
	n, ok, err := r.next.IncrementUsage(ctx, id)
	if err != nil {
		return n, ok, err
	}
	if ok {
		r.invalidate(ctx, id)
	}
	return n, ok, nil
}

func (r *CouponRepository) get(ctx context.Context, id uuid.UUID) (*coupon.Coupon, bool) {
	data, err := r.rdb.Get(ctx, idKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.warn(ctx, "Cache read failed", err)
		}
		return nil, false
	}

	c := new(coupon.Coupon)
	if err := c.Decode(jx.DecodeBytes(data)); err != nil {
		r.warn(ctx, "Cache entry corrupt", err)
		r.invalidate(ctx, id)
		return nil, false
	}
	return c, true
}

// generation returns the current invalidation generation of id. ok is false
// when Redis cannot be read; nothing may be cached then.
func (r *CouponRepository) generation(ctx context.Context, id uuid.UUID) (gen string, ok bool) {
	gen, err := r.rdb.Get(ctx, genKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.warn(ctx, "Cache read failed", err)
		return "", false
	}
	return gen, true
}

// put caches c unless the generation moved away from gen.
func (r *CouponRepository) put(ctx context.Context, c *coupon.Coupon, gen string) {
	var e jx.Encoder
	c.Encode(&e)

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(c.ID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, idKey(c.ID), e.Bytes(), r.ttl)
			p.Set(ctx, codeKey(c.Code), c.ID.String(), r.ttl)
			return nil
		})
		return err
	}, genKey(c.ID))

	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		zctx.From(ctx).Debug("Cache fill skipped", zap.Stringer("id", c.ID))
	default:
		r.warn(ctx, "Cache write failed", err)
	}
}

// invalidate bumps the generation and drops the coupon body. Code keys
// resolve through the body, so they need no explicit removal.
func (r *CouponRepository) invalidate(ctx context.Context, id uuid.UUID) {
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(id))
		p.Expire(ctx, genKey(id), genTTL)
		p.Del(ctx, idKey(id))
		return nil
	})
	if err != nil {
		r.warn(ctx, "Cache invalidation failed", err)
	}
}

func (r *CouponRepository) warn(ctx context.Context, msg string, err error) {
	zctx.From(ctx).Warn(msg, zap.Error(err))
}
