//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go/modules/compose"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	dc, err := tc.NewDockerCompose("testdata/docker-compose.yml")
	if err != nil {
		log.Fatalf("compose init: %v", err)
	}
	defer func() {
		if err := dc.Down(context.Background(), tc.RemoveOrphans(true), tc.RemoveVolumes(true)); err != nil {
			log.Printf("compose down: %v", err)
		}
	}()

	err = dc.
		WaitForService("postgres", wait.ForListeningPort("5432/tcp")).
		Up(ctx, tc.Wait(true))
	if err != nil {
		log.Fatalf("compose up: %v", err)
	}

	pg, err := dc.ServiceContainer(ctx, "postgres")
	if err != nil {
		log.Fatalf("postgres container: %v", err)
	}
	host, err := pg.Host(ctx)
	if err != nil {
		log.Fatalf("postgres host: %v", err)
	}
	port, err := pg.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("postgres port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://coupon:coupon@%s:%s/coupon?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Migrations must be re-runnable.
	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrate twice: %v", err)
	}

	return m.Run()
}

func newStoredCoupon(t *testing.T, r *CouponRepository, mods ...func(*coupon.Coupon)) *coupon.Coupon {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &coupon.Coupon{
		ID:           uuid.New(),
		Code:         "IT-" + uuid.NewString()[:8],
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.RequireFromString("12.5"),
		MinPurchase:  decimal.RequireFromString("20"),
		MaxDiscount:  decimal.NewNullDecimal(decimal.RequireFromString("15")),
		ValidFrom:    now.Add(-time.Hour),
		ValidUntil:   now.Add(time.Hour),
		AppliesTo:    coupon.ScopeCategories,
		ApplicableIDs: []string{
			"shoes", "bags",
		},
		IsActive:  true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range mods {
		m(c)
	}
	require.NoError(t, r.Create(context.Background(), c))
	return c
}

func TestCouponRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository(testPool)
	c := newStoredCoupon(t, r)

	got, err := r.FindByCode(ctx, " "+c.Code+" ")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.DiscountType, got.DiscountType)
	assert.True(t, c.Value.Equal(got.Value))
	assert.True(t, got.MaxDiscount.Valid)
	assert.True(t, c.MaxDiscount.Decimal.Equal(got.MaxDiscount.Decimal))
	assert.Equal(t, c.ApplicableIDs, got.ApplicableIDs)
	assert.True(t, c.ValidFrom.Equal(got.ValidFrom))

	_, err = r.FindByID(ctx, uuid.New())
	require.ErrorIs(t, err, coupon.ErrNotFound)

	dup := c.Clone()
	dup.ID = uuid.New()
	require.ErrorIs(t, r.Create(ctx, dup), coupon.ErrCodeTaken)
}

func TestCouponRepository_SaveVersioning(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository(testPool)
	c := newStoredCoupon(t, r, func(c *coupon.Coupon) { c.UsageLimit = 5 })

	_, ok, err := r.IncrementUsage(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, ok)

	edit, err := r.FindByID(ctx, c.ID)
	require.NoError(t, err)
	stale := edit.Clone()

	edit.MaxDiscount = decimal.NullDecimal{}
	require.NoError(t, r.Save(ctx, edit))
	assert.Equal(t, 2, edit.Version)
	assert.Equal(t, 1, edit.UsageCount)

	require.ErrorIs(t, r.Save(ctx, stale), coupon.ErrConflict)

	got, err := r.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.MaxDiscount.Valid)
}

func TestCouponRepository_SaveLimitGuard(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository(testPool)
	c := newStoredCoupon(t, r, func(c *coupon.Coupon) { c.UsageLimit = 5 })

	edit, err := r.FindByID(ctx, c.ID)
	require.NoError(t, err)
	for range 3 {
		_, _, err := r.IncrementUsage(ctx, c.ID)
		require.NoError(t, err)
	}

	edit.UsageLimit = 2
	require.ErrorIs(t, r.Save(ctx, edit), coupon.ErrConflict)
}

func TestCouponRepository_Delete(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository(testPool)
	c := newStoredCoupon(t, r)

	require.NoError(t, r.Delete(ctx, c.ID))
	require.ErrorIs(t, r.Delete(ctx, c.ID), coupon.ErrNotFound)

	_, err := r.FindByCode(ctx, c.Code)
	require.ErrorIs(t, err, coupon.ErrNotFound)
	_, _, err = r.IncrementUsage(ctx, c.ID)
	require.ErrorIs(t, err, coupon.ErrNotFound)

	// The code can be reused after deletion.
	newStoredCoupon(t, r, func(n *coupon.Coupon) { n.Code = c.Code })
}

func TestCouponRepository_List(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository(testPool)
	prefix := "LIST_" + uuid.NewString()[:6]
	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := range 3 {
		newStoredCoupon(t, r, func(c *coupon.Coupon) {
			c.Code = fmt.Sprintf("%s-%d", prefix, i)
			c.CreatedAt = base.Add(time.Duration(i) * time.Second)
		})
	}

	got, err := r.List(ctx, coupon.ListFilter{CodeContains: prefix, Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, prefix+"-2", got[0].Code)
	assert.Equal(t, prefix+"-1", got[1].Code)

	// LIKE wildcards in the needle match literally.
	got, err = r.List(ctx, coupon.ListFilter{CodeContains: "LIST%"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCouponRepository_IncrementUsage_Concurrent(t *testing.T) {
	ctx := context.Background()
	r := NewCouponRepository(testPool)
	c := newStoredCoupon(t, r, func(c *coupon.Coupon) { c.UsageLimit = 7 })

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, committed, err := r.IncrementUsage(ctx, c.ID)
			if !assert.NoError(t, err) {
				return
			}
			if committed {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, ok)
	got, err := r.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.UsageCount)
}
