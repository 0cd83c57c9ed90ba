package coupon

import (
	"context"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/xenking/coupon-engine/internal/domain/coupon"

// Options control a single validation call.
type Options struct {
	// Commit consumes one unit of the usage limit on success. Without it the
	// call is a side-effect-free preview.
	Commit bool
}

// Result is the outcome of a validation. Ineligibility is a normal result,
// not an error.
type Result struct {
	Eligible bool
	Status   Status
	// Reason is set when Eligible is false.
	Reason   Reason
	Discount Discount
	// UsageCount is the counter value after a successful commit.
	UsageCount int
}

// Engine orchestrates status resolution, applicability, discount
// calculation and, for commits, the usage ledger.
type Engine struct {
	ledger Ledger

	tracer      trace.Tracer
	validations metric.Int64Counter
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider sets the meter provider. The global one is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *engineOptions) { o.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider. The global one is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *engineOptions) { o.tracerProvider = tp }
}

// NewEngine creates an Engine committing redemptions through ledger.
func NewEngine(ledger Ledger, opts ...Option) (*Engine, error) {
	o := engineOptions{
		meterProvider:  otel.GetMeterProvider(),
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	validations, err := o.meterProvider.Meter(instrumentationName).Int64Counter("coupon.validations",
		metric.WithDescription("Coupon validations by outcome and reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create validations counter")
	}

	return &Engine{
		ledger:      ledger,
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		validations: validations,
	}, nil
}

// Validate evaluates c against rc. The status is resolved first, then the
// applicability rules, then the discount. With opts.Commit the usage limit
// is re-checked atomically by the ledger, so a lost race reports
// LimitReached even when the earlier checks passed.
//
// The returned error is reserved for invalid input and infrastructure
// failures; a failed commit is never reported as eligible.
func (e *Engine) Validate(ctx context.Context, c *Coupon, rc RedemptionContext, opts Options) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "coupon.Validate", trace.WithAttributes(
		attribute.String("coupon.code", c.Code),
		attribute.Bool("coupon.commit", opts.Commit),
	))
	defer span.End()

	res, err := e.validate(ctx, c, rc, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		e.record(ctx, "error", "", opts.Commit)
		return res, err
	}

	outcome := "eligible"
	if !res.Eligible {
		outcome = "rejected"
	}
	span.SetAttributes(
		attribute.String("coupon.status", string(res.Status)),
		attribute.String("coupon.reason", string(res.Reason)),
	)
	e.record(ctx, outcome, res.Reason, opts.Commit)

	zctx.From(ctx).Debug("Coupon validated",
		zap.String("code", c.Code),
		zap.Bool("commit", opts.Commit),
		zap.Bool("eligible", res.Eligible),
		zap.String("reason", string(res.Reason)),
		zap.Stringer("discount", res.Discount.Amount),
	)
	return res, nil
}

func (e *Engine) validate(ctx context.Context, c *Coupon, rc RedemptionContext, opts Options) (Result, error) {
	if err := rc.validate(); err != nil {
		return Result{}, err
	}

	status := ResolveStatus(c, rc.Now)
	if status != StatusActive {
		return Result{Status: status, Reason: statusReason(status)}, nil
	}

	if m := IsApplicable(c, rc); !m.OK {
		return Result{Status: status, Reason: m.Reason}, nil
	}

	res := Result{
		Eligible:   true,
		Status:     status,
		Discount:   ComputeDiscount(c, rc),
		UsageCount: c.UsageCount,
	}
	if !opts.Commit {
		return res, nil
	}

	commit, err := e.ledger.TryCommit(ctx, c)
	if err != nil {
		return Result{Status: status}, errors.Wrap(err, "commit redemption")
	}
	if !commit.Committed {
		return Result{Status: status, Reason: commit.Reason}, nil
	}
	res.UsageCount = commit.NewCount
	return res, nil
}

func (e *Engine) record(ctx context.Context, outcome string, reason Reason, commit bool) {
	e.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", string(reason)),
		attribute.String("commit", strconv.FormatBool(commit)),
	))
}
