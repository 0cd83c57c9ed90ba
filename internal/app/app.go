// Package app wires configuration, storage, caching, events and the coupon
// service together for the command-line binaries.
package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/events"
	"github.com/xenking/coupon-engine/internal/storage/postgres"
	"github.com/xenking/coupon-engine/internal/storage/rediscache"
)

// App holds the wired coupon service and the resources backing it.
type App struct {
	Service *coupon.Service

	pool      *pgxpool.Pool
	rdb       *redis.Client
	publisher *events.KafkaPublisher
	lg        *zap.Logger
}

// Open creates all dependencies described by cfg. It is the single wiring
// point for the binaries; the caller must Close the result.
func Open(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) (_ *App, rerr error) {
	a := &App{lg: lg}
	defer func() {
		if rerr != nil {
			a.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	a.pool = pool

	if cfg.Migrate {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
	}

	var repo coupon.Repository = postgres.NewCouponRepository(pool)

	// Optional lookup cache.
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		repo = rediscache.New(repo, a.rdb, cfg.Redis.TTL)
		lg.Info("Coupon cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	// Optional redemption events.
	var publisher coupon.RedemptionPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, errors.Wrap(err, "create redemption publisher")
		}
		a.publisher = p
		publisher = p
		lg.Info("Redemption events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	engine, err := coupon.NewEngine(
		coupon.NewRepoLedger(repo, cfg.Ledger.Timeout),
		coupon.WithMeterProvider(m.MeterProvider()),
		coupon.WithTracerProvider(m.TracerProvider()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create engine")
	}

	a.Service = coupon.NewService(repo, engine, publisher)
	return a, nil
}

// Close releases every resource opened by Open. Failures are logged.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.lg.Warn("Close kafka producer", zap.Error(err))
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.lg.Warn("Close redis client", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
