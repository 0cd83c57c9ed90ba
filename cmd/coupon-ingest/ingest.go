package main

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000
	maxLineSize   = 1 << 20
)

// ingestPrincipal is the administrator identity imports run as.
var ingestPrincipal = auth.Principal{ID: "ingest", Role: auth.RoleAdmin}

type options struct {
	dataDir  string
	expected uint
	workers  int
}

type stats struct {
	created    atomic.Int64
	duplicates atomic.Int64 // repeated within the import
	existing   atomic.Int64 // already stored
	rejected   atomic.Int64 // unparsable or invalid
}

type creator interface {
	Create(ctx context.Context, p auth.Principal, d coupon.Definition) (*coupon.Coupon, error)
}

// ingest imports every *.jsonl.gz file in opts.dataDir.
//
// Pass 1 streams all files concurrently into a shared bloom filter and
// collects the codes the filter reports as already seen. Only those suspects
// need exact tracking in pass 2, which replays the files in name order and
// keeps the first definition of each code.
func ingest(ctx context.Context, lg *zap.Logger, svc creator, opts options) (*stats, error) {
	files, err := filepath.Glob(filepath.Join(opts.dataDir, "*.jsonl.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no *.jsonl.gz files in %s", opts.dataDir)
	}
	slices.Sort(files)

	lg.Info("Pass 1: building bloom filter", zap.Int("files", len(files)))
	suspects, err := findSuspects(ctx, files, opts.expected)
	if err != nil {
		return nil, errors.Wrap(err, "find duplicate candidates")
	}
	lg.Info("Pass 1 complete", zap.Int("suspects", len(suspects)))

	lg.Info("Pass 2: creating coupons")
	st := new(stats)
	ctx = auth.WithPrincipal(ctx, ingestPrincipal)
	if err := createAll(ctx, lg, svc, files, suspects, opts.workers, st); err != nil {
		return st, errors.Wrap(err, "create coupons")
	}
	return st, nil
}

func findSuspects(ctx context.Context, files []string, expected uint) (map[string]struct{}, error) {
	var (
		mu       sync.Mutex
		filter   = bloom.NewWithEstimates(max(expected, 1), bloomFPR)
		suspects = make(map[string]struct{})
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return streamLines(ctx, path, func(_ int, line []byte) {
				code, err := scanCode(line)
				if err != nil || code == "" {
					return
				}
				mu.Lock()
				if filter.TestAndAddString(code) {
					suspects[code] = struct{}{}
				}
				mu.Unlock()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return suspects, nil
}

func createAll(
	ctx context.Context,
	lg *zap.Logger,
	svc creator,
	files []string,
	suspects map[string]struct{},
	workers int,
	st *stats,
) error {
	var (
		p    = auth.FromContext(ctx)
		seen = make(map[string]struct{}, len(suspects))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))

	for _, path := range files {
		name := filepath.Base(path)
		err := streamLines(gctx, path, func(lineNo int, line []byte) {
			d, err := parseDefinition(line)
			if err != nil {
				st.rejected.Add(1)
				lg.Warn("Skipping unparsable row", zap.String("file", name), zap.Int("line", lineNo), zap.Error(err))
				return
			}

			reject := func(err error) {
				st.rejected.Add(1)
				lg.Warn("Skipping invalid coupon",
					zap.String("file", name),
					zap.Int("line", lineNo),
					zap.String("code", d.Code),
					zap.Error(err),
				)
			}

			// An invalid row never claims its code, so a later valid row
			// with the same code is still imported.
			key := normalizeCode(d.Code)
			if _, suspect := suspects[key]; suspect {
				if _, dup := seen[key]; dup {
					st.duplicates.Add(1)
					return
				}
				if err := d.Check(); err != nil {
					reject(err)
					return
				}
				seen[key] = struct{}{}
			}

			g.Go(func() error {
				_, err := svc.Create(gctx, p, d)
				var iv *coupon.InvariantViolation
				switch {
				case err == nil:
					if n := st.created.Add(1); n%progressEvery == 0 {
						lg.Info("Progress", zap.Int64("created", n))
					}
				case errors.Is(err, coupon.ErrCodeTaken):
					st.existing.Add(1)
				case errors.As(err, &iv):
					reject(err)
				default:
					return errors.Wrapf(err, "%s:%d", name, lineNo)
				}
				return nil
			})
		})
		if err != nil {
			if werr := g.Wait(); werr != nil {
				return werr
			}
			return err
		}
	}
	return g.Wait()
}

// streamLines calls fn for each non-empty line of a gzip-compressed file.
func streamLines(ctx context.Context, path string, fn func(lineNo int, line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		fn(lineNo, line)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// scanCode extracts the normalized code of a row without decoding the rest.
func scanCode(line []byte) (string, error) {
	var code string
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "code" {
			return d.Skip()
		}
		v, err := d.Str()
		code = v
		return err
	})
	return normalizeCode(code), err
}

// parseDefinition decodes a row in the coupon JSON layout. Rows are active
// unless they say otherwise; counters and identifiers are ignored.
func parseDefinition(line []byte) (coupon.Definition, error) {
	c := coupon.Coupon{IsActive: true}
	if err := c.Decode(jx.DecodeBytes(line)); err != nil {
		return coupon.Definition{}, err
	}
	return coupon.Definition{
		Code:          c.Code,
		DiscountType:  c.DiscountType,
		Value:         c.Value,
		MinPurchase:   c.MinPurchase,
		MaxDiscount:   c.MaxDiscount,
		ValidFrom:     c.ValidFrom,
		ValidUntil:    c.ValidUntil,
		UsageLimit:    c.UsageLimit,
		AppliesTo:     c.AppliesTo,
		ApplicableIDs: c.ApplicableIDs,
		IsActive:      c.IsActive,
	}, nil
}
