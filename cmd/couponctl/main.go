// Command couponctl administers coupons and previews or redeems them against
// a cart from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	appkg "github.com/xenking/coupon-engine/internal/app"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]

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

		return run(ctx, a.Service, os.Stdout, name, args)
	})
}
