package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/storage/memory"
)

func writeGz(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
}

func row(code string) string {
	return `{"code":"` + code + `","discountType":"percentage","value":"10",` +
		`"validFrom":"2025-01-01T00:00:00Z","validUntil":"2025-12-31T23:59:59Z"}`
}

func newTestService(t *testing.T) (*coupon.Service, *memory.CouponRepository) {
	t.Helper()
	repo := memory.NewCouponRepository()
	engine, err := coupon.NewEngine(coupon.NewRepoLedger(repo, 0))
	require.NoError(t, err)
	return coupon.NewService(repo, engine, nil), repo
}

func TestIngest(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, "a.jsonl.gz",
		row("ALPHA"),
		row("BETA"),
		"",
		"{not json",
		`{"code":"BADPCT","discountType":"percentage","value":"150","validFrom":"2025-01-01T00:00:00Z","validUntil":"2025-02-01T00:00:00Z"}`,
	)
	writeGz(t, dir, "b.jsonl.gz",
		row("alpha"),
		row("GAMMA"),
		row("Gamma"),
	)
	writeGz(t, dir, "ignored.txt.gz", row("DELTA"))

	svc, repo := newTestService(t)
	ctx := context.Background()
	st, err := ingest(ctx, zap.NewNop(), svc, options{dataDir: dir, expected: 100, workers: 4})
	require.NoError(t, err)

	assert.Equal(t, int64(3), st.created.Load())
	assert.Equal(t, int64(2), st.duplicates.Load())
	assert.Equal(t, int64(2), st.rejected.Load())
	assert.Zero(t, st.existing.Load())

	for _, code := range []string{"ALPHA", "BETA", "GAMMA"} {
		c, err := repo.FindByCode(ctx, code)
		require.NoError(t, err, code)
		assert.True(t, c.IsActive)
	}
	_, err = repo.FindByCode(ctx, "DELTA")
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestIngest_InvalidRowDoesNotClaimCode(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, "a.jsonl.gz",
		`{"code":"DUPE","discountType":"percentage","value":"150","validFrom":"2025-01-01T00:00:00Z","validUntil":"2025-02-01T00:00:00Z"}`,
		row("dupe"),
		row("DUPE"),
	)

	svc, repo := newTestService(t)
	ctx := context.Background()
	st, err := ingest(ctx, zap.NewNop(), svc, options{dataDir: dir, expected: 10, workers: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(1), st.created.Load())
	assert.Equal(t, int64(1), st.rejected.Load())
	assert.Equal(t, int64(1), st.duplicates.Load())

	c, err := repo.FindByCode(ctx, "DUPE")
	require.NoError(t, err)
	assert.Equal(t, "10", c.Value.String())
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}

func TestIngest_Existing(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, "a.jsonl.gz", row("KEEP"), row("NEW"))

	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, ingestPrincipal, coupon.Definition{
		Code:         "keep",
		DiscountType: coupon.DiscountFixed,
		ValidFrom:    mustTime(t, "2025-01-01T00:00:00Z"),
		ValidUntil:   mustTime(t, "2025-02-01T00:00:00Z"),
	})
	require.NoError(t, err)

	st, err := ingest(ctx, zap.NewNop(), svc, options{dataDir: dir, expected: 10, workers: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.created.Load())
	assert.Equal(t, int64(1), st.existing.Load())
}

type failingCreator struct{}

func (f *failingCreator) Create(context.Context, auth.Principal, coupon.Definition) (*coupon.Coupon, error) {
	return nil, errors.New("connection refused")
}

func TestIngest_StoreFailure(t *testing.T) {
	dir := t.TempDir()
	writeGz(t, dir, "a.jsonl.gz", row("ONE"), row("TWO"))

	_, err := ingest(context.Background(), zap.NewNop(), &failingCreator{}, options{dataDir: dir, expected: 10, workers: 2})
	require.ErrorContains(t, err, "connection refused")
}

func TestIngest_NoFiles(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := ingest(context.Background(), zap.NewNop(), svc, options{dataDir: t.TempDir()})
	require.ErrorContains(t, err, "no *.jsonl.gz files")
}

func TestParseDefinition(t *testing.T) {
	d, err := parseDefinition([]byte(`{"code":"X","value":5,"isActive":false,"usageCount":9,"applicableIds":["a"],"appliesTo":"products"}`))
	require.NoError(t, err)
	assert.Equal(t, "X", d.Code)
	assert.Equal(t, "5", d.Value.String())
	assert.False(t, d.IsActive)
	assert.Equal(t, coupon.ScopeProducts, d.AppliesTo)
	assert.Equal(t, []string{"a"}, d.ApplicableIDs)
}
