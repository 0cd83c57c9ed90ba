// Command coupon-ingest bulk-imports coupon definitions from gzip-compressed
// JSON-lines files.
package main

import (
	"context"
	"flag"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/coupon-engine/internal/app"
)

func main() {
	var opts options
	flag.StringVar(&opts.dataDir, "data-dir", "data", "directory containing *.jsonl.gz files")
	flag.UintVar(&opts.expected, "expected", 1_000_000, "expected number of coupons, sizes the bloom filter")
	flag.IntVar(&opts.workers, "workers", 8, "concurrent inserts")
	flag.Parse()

	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := appkg.LoadConfig()
		if err != nil {
			return err
		}
		a, err := appkg.Open(ctx, lg, m, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := ingest(ctx, lg, a.Service, opts)
		if err != nil {
			return errors.Wrap(err, "ingest")
		}
		lg.Info("Coupon ingest completed",
			zap.Int64("created", stats.created.Load()),
			zap.Int64("duplicates", stats.duplicates.Load()),
			zap.Int64("existing", stats.existing.Load()),
			zap.Int64("rejected", stats.rejected.Load()),
		)
		return nil
	})
}
