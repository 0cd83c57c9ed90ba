package postgres

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const couponColumns = `id, code, discount_type, value, min_purchase, max_discount,
	valid_from, valid_until, usage_limit, usage_count, applies_to, applicable_ids,
	is_active, version, created_at, updated_at`

const (
	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE UPPER(code) = UPPER($1) AND deleted_at IS NULL`

	getCouponByIDSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE id = $1 AND deleted_at IS NULL`

	listCouponsSQL = `SELECT ` + couponColumns + `
		FROM coupons
		WHERE deleted_at IS NULL AND ($1 = '' OR code ILIKE '%' || $1 || '%' ESCAPE '\')
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`

	createCouponSQL = `INSERT INTO coupons (id, code, discount_type, value, min_purchase, max_discount,
		valid_from, valid_until, usage_limit, usage_count, applies_to, applicable_ids,
		is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	// saveCouponSQL never touches usage_count. The limit guard rejects a
	// ceiling that redemptions committed after the load already exceed.
	saveCouponSQL = `UPDATE coupons SET
		code = $3, discount_type = $4, value = $5, min_purchase = $6, max_discount = $7,
		valid_from = $8, valid_until = $9, usage_limit = $10, applies_to = $11,
		applicable_ids = $12, is_active = $13, updated_at = $14, version = version + 1
		WHERE id = $1 AND version = $2 AND deleted_at IS NULL
		AND ($10 = 0 OR usage_count <= $10)
		RETURNING version, usage_count, created_at`

	deleteCouponSQL = `UPDATE coupons SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	incrementUsageSQL = `UPDATE coupons SET usage_count = usage_count + 1
		WHERE id = $1 AND deleted_at IS NULL
		AND (usage_limit = 0 OR usage_count < usage_limit)
		RETURNING usage_count`

	getUsageCountSQL = `SELECT usage_count FROM coupons WHERE id = $1 AND deleted_at IS NULL`

	uniqueViolation = "23505"
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a live coupon by its code (case-insensitive).
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByCodeSQL, strings.TrimSpace(code))
}

// FindByID looks up a live coupon by ID.
func (r *CouponRepository) FindByID(ctx context.Context, id uuid.UUID) (*coupon.Coupon, error) {
	return r.findOne(ctx, getCouponByIDSQL, id)
}

func (r *CouponRepository) findOne(ctx context.Context, sql string, arg any) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query coupon")
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrap(err, "scan coupon")
	}
	return &c, nil
}

// List returns live coupons matching filter, newest first.
func (r *CouponRepository) List(ctx context.Context, filter coupon.ListFilter) ([]coupon.Coupon, error) {
	filter = filter.Normalize()

	rows, err := r.pool.Query(ctx, listCouponsSQL, escapeLike(filter.CodeContains), filter.Limit, filter.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	out, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrap(err, "scan coupons")
	}
	return out, nil
}

// Create inserts c. A code clash with a live coupon yields coupon.ErrCodeTaken.
func (r *CouponRepository) Create(ctx context.Context, c *coupon.Coupon) error {
	_, err := r.pool.Exec(ctx, createCouponSQL,
		c.ID, c.Code, string(c.DiscountType), c.Value, c.MinPurchase, c.MaxDiscount,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, c.UsageCount, string(c.AppliesTo), ids(c.ApplicableIDs),
		c.IsActive, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrCodeTaken
		}
		return errors.Wrapf(err, "insert coupon %q", c.Code)
	}
	return nil
}

// Save writes the definition fields of c if its version is current.
func (r *CouponRepository) Save(ctx context.Context, c *coupon.Coupon) error {
	row := r.pool.QueryRow(ctx, saveCouponSQL,
		c.ID, c.Version,
		c.Code, string(c.DiscountType), c.Value, c.MinPurchase, c.MaxDiscount,
		c.ValidFrom, c.ValidUntil, c.UsageLimit, string(c.AppliesTo), ids(c.ApplicableIDs),
		c.IsActive, c.UpdatedAt,
	)

	var (
		version, count int
		createdAt      = c.CreatedAt
	)
	err := row.Scan(&version, &count, &createdAt)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		if _, findErr := r.FindByID(ctx, c.ID); findErr != nil {
			return findErr
		}
		return coupon.ErrConflict
	case isUniqueViolation(err):
		return coupon.ErrCodeTaken
	default:
		return errors.Wrapf(err, "update coupon %s", c.ID)
	}

	c.Version = version
	c.UsageCount = count
	c.CreatedAt = createdAt
	return nil
}

// Delete soft-deletes the coupon id. Its usage counter is retained.
func (r *CouponRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteCouponSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete coupon %s", id)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// IncrementUsage atomically increments the counter of id unless its limit
// is reached. The conditional UPDATE row lock serializes concurrent callers.
func (r *CouponRepository) IncrementUsage(ctx context.Context, id uuid.UUID) (int, bool, error) {
	var count int
	err := r.pool.QueryRow(ctx, incrementUsageSQL, id).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, errors.Wrapf(err, "increment usage of %s", id)
	}

	// Either the coupon is gone or it is at its limit.
	err = r.pool.QueryRow(ctx, getUsageCountSQL, id).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, coupon.ErrNotFound
		}
		return 0, false, errors.Wrapf(err, "read usage of %s", id)
	}
	return count, false, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		appliesTo    string
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &c.MinPurchase, &c.MaxDiscount,
		&c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.UsageCount, &appliesTo, &c.ApplicableIDs,
		&c.IsActive, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.AppliesTo = coupon.Scope(appliesTo)
	if len(c.ApplicableIDs) == 0 {
		c.ApplicableIDs = nil
	}
	return c, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ids maps nil to an empty array for the NOT NULL column.
func ids(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
