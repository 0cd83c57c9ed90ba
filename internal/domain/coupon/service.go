package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
)

// Redemption describes a committed redemption.
type Redemption struct {
	CouponID    uuid.UUID
	Code        string
	PrincipalID string
	Discount    decimal.Decimal
	Deferred    bool
	UsageCount  int
	RedeemedAt  time.Time
}

// RedemptionPublisher announces committed redemptions to other systems.
type RedemptionPublisher interface {
	PublishRedemption(ctx context.Context, r Redemption) error
}

// Listing is a coupon together with its status at listing time.
type Listing struct {
	Coupon Coupon
	Status Status
}

// Service exposes coupon administration and redemption to callers. It
// checks authorization and field invariants before delegating to the
// repository and the engine.
type Service struct {
	repo      Repository
	engine    *Engine
	publisher RedemptionPublisher
	now       func() time.Time
}

// NewService creates a Service. publisher may be nil.
func NewService(repo Repository, engine *Engine, publisher RedemptionPublisher) *Service {
	return &Service{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
		now:       time.Now,
	}
}

// Create validates d and stores it as a new coupon with a zero usage count.
func (s *Service) Create(ctx context.Context, p auth.Principal, d Definition) (*Coupon, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}

	c := newCoupon(d)
	if err := CheckInvariants(c); err != nil {
		return nil, err
	}

	now := s.now()
	c.ID = uuid.New()
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}

	zctx.From(ctx).Info("Coupon created",
		zap.Stringer("id", c.ID),
		zap.String("code", c.Code),
		zap.String("by", p.ID),
	)
	return c, nil
}

// Update applies patch to the coupon id. The usage counter is never touched;
// a concurrent definition edit yields ErrConflict.
func (s *Service) Update(ctx context.Context, p auth.Principal, id uuid.UUID, patch Patch) (*Coupon, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}

	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "load coupon")
	}

	patch.apply(c)
	if err := CheckInvariants(c); err != nil {
		return nil, err
	}
	c.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save coupon")
	}

	zctx.From(ctx).Info("Coupon updated",
		zap.Stringer("id", c.ID),
		zap.Int("version", c.Version),
		zap.String("by", p.ID),
	)
	return c, nil
}

// Delete removes the coupon id from future validation.
func (s *Service) Delete(ctx context.Context, p auth.Principal, id uuid.UUID) error {
	if err := p.RequireAdmin(); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete coupon")
	}

	zctx.From(ctx).Info("Coupon deleted", zap.Stringer("id", id), zap.String("by", p.ID))
	return nil
}

// Get returns the coupon id.
func (s *Service) Get(ctx context.Context, p auth.Principal, id uuid.UUID) (*Coupon, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

// List returns coupons matching filter with their status at now.
func (s *Service) List(ctx context.Context, p auth.Principal, filter ListFilter, now time.Time) ([]Listing, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}

	coupons, err := s.repo.List(ctx, filter.Normalize())
	if err != nil {
		return nil, errors.Wrap(err, "list coupons")
	}

	out := make([]Listing, len(coupons))
	for i := range coupons {
		out[i] = Listing{Coupon: coupons[i], Status: ResolveStatus(&coupons[i], now)}
	}
	return out, nil
}

// Preview validates code against rc without consuming usage. A zero rc.Now
// is replaced with the current time.
func (s *Service) Preview(ctx context.Context, p auth.Principal, code string, rc RedemptionContext) (Result, error) {
	res, _, err := s.validate(ctx, p, code, rc, Options{})
	return res, err
}

// Redeem validates code against rc and commits one use on success. The
// redemption is published after the commit; publishing failures are logged
// and do not undo the commit.
func (s *Service) Redeem(ctx context.Context, p auth.Principal, code string, rc RedemptionContext) (Result, error) {
	if rc.Now.IsZero() {
		rc.Now = s.now()
	}
	res, c, err := s.validate(ctx, p, code, rc, Options{Commit: true})
	if err != nil || !res.Eligible {
		return res, err
	}

	if s.publisher != nil {
		r := Redemption{
			CouponID:    c.ID,
			Code:        c.Code,
			PrincipalID: p.ID,
			Discount:    res.Discount.Amount,
			Deferred:    res.Discount.Deferred,
			UsageCount:  res.UsageCount,
			RedeemedAt:  rc.Now,
		}
		if err := s.publisher.PublishRedemption(ctx, r); err != nil {
			zctx.From(ctx).Warn("Publish redemption failed",
				zap.Stringer("id", c.ID),
				zap.Error(err),
			)
		}
	}
	return res, nil
}

func (s *Service) validate(ctx context.Context, p auth.Principal, code string, rc RedemptionContext, opts Options) (Result, *Coupon, error) {
	if err := p.RequireAuthenticated(); err != nil {
		return Result{}, nil, err
	}

	c, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return Result{}, nil, errors.Wrap(err, "lookup coupon")
	}

	if rc.Now.IsZero() {
		rc.Now = s.now()
	}
	res, err := s.engine.Validate(ctx, c, rc, opts)
	return res, c, err
}
