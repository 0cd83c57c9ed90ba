package main

import (
	"context"
	"flag"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
)

const usage = `usage: couponctl <command> [flags]

commands:
  create   define a new coupon (admin)
  update   patch an existing coupon (admin)
  delete   delete a coupon (admin)
  get      show a coupon (admin)
  list     list coupons with their status (admin)
  preview  evaluate a coupon against a cart without consuming it
  redeem   evaluate a coupon and consume one use

common flags:
  -as ID       principal ID
  -role ROLE   principal role: admin or customer (default customer)`

type encodable interface {
	Encode(e *jx.Encoder)
}

// exec runs a command once its flags are parsed. The acting principal is
// carried in ctx.
type exec func(ctx context.Context, svc *coupon.Service) (encodable, error)

// command registers its flags on fs and returns the function to execute.
type command func(fs *flag.FlagSet) exec

var commands = map[string]command{
	"create":  createCmd,
	"update":  updateCmd,
	"delete":  deleteCmd,
	"get":     getCmd,
	"list":    listCmd,
	"preview": validateCmd(false),
	"redeem":  validateCmd(true),
}

// run executes the named command and writes its JSON result to w.
func run(ctx context.Context, svc *coupon.Service, w io.Writer, name string, args []string) error {
	cmd, ok := commands[name]
	if !ok {
		return errors.Errorf("unknown command %q\n%s", name, usage)
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	as := fs.String("as", "", "principal ID")
	role := fs.String("role", string(auth.RoleCustomer), "principal role")
	x := cmd(fs)
	if err := fs.Parse(args); err != nil {
		return errors.Wrapf(err, "%s", name)
	}

	r, err := auth.ParseRole(*role)
	if err != nil {
		return err
	}
	ctx = auth.WithPrincipal(ctx, auth.Principal{ID: *as, Role: r})
	out, err := x(ctx, svc)
	if err != nil {
		return err
	}

	var e jx.Encoder
	out.Encode(&e)
	_, err = w.Write(append(e.Bytes(), '\n'))
	return err
}

// definitionFlags binds the coupon definition fields to fs.
type definitionFlags struct {
	code        *string
	typ         *string
	value       *string
	minPurchase *string
	maxDiscount *string
	from        *string
	until       *string
	limit       *int
	appliesTo   *string
	ids         *string
	active      *bool
}

func bindDefinition(fs *flag.FlagSet) *definitionFlags {
	return &definitionFlags{
		code:        fs.String("code", "", "coupon code"),
		typ:         fs.String("type", string(coupon.DiscountFixed), "percentage|fixed|shipping|buyXgetY"),
		value:       fs.String("value", "0", "discount value"),
		minPurchase: fs.String("min-purchase", "0", "minimum cart total"),
		maxDiscount: fs.String("max-discount", "", "percentage discount cap; empty for none"),
		from:        fs.String("from", "", "validity start (RFC 3339)"),
		until:       fs.String("until", "", "validity end (RFC 3339)"),
		limit:       fs.Int("limit", 0, "usage limit; 0 for unlimited"),
		appliesTo:   fs.String("applies-to", string(coupon.ScopeAll), "all|categories|products"),
		ids:         fs.String("ids", "", "comma-separated product or category IDs"),
		active:      fs.Bool("active", true, "whether the coupon can be redeemed"),
	}
}

func (f *definitionFlags) definition() (coupon.Definition, error) {
	var (
		d   coupon.Definition
		err error
	)
	d.Code = *f.code
	d.DiscountType = coupon.DiscountType(*f.typ)
	d.UsageLimit = *f.limit
	d.AppliesTo = coupon.Scope(*f.appliesTo)
	d.ApplicableIDs = splitList(*f.ids)
	d.IsActive = *f.active

	if d.Value, err = parseDecimal("value", *f.value); err != nil {
		return d, err
	}
	if d.MinPurchase, err = parseDecimal("min-purchase", *f.minPurchase); err != nil {
		return d, err
	}
	if d.MaxDiscount, err = parseNullDecimal(*f.maxDiscount); err != nil {
		return d, err
	}
	if d.ValidFrom, err = parseTime("from", *f.from); err != nil {
		return d, err
	}
	if d.ValidUntil, err = parseTime("until", *f.until); err != nil {
		return d, err
	}
	return d, nil
}

// patch builds a Patch from the flags explicitly set on fs.
func (f *definitionFlags) patch(fs *flag.FlagSet) (coupon.Patch, error) {
	var (
		p     coupon.Patch
		err   error
		field string
	)
	fs.Visit(func(fl *flag.Flag) {
		if err != nil {
			return
		}
		field = fl.Name
		switch fl.Name {
		case "code":
			p.Code = f.code
		case "type":
			t := coupon.DiscountType(*f.typ)
			p.DiscountType = &t
		case "value":
			var v decimal.Decimal
			v, err = parseDecimal("value", *f.value)
			p.Value = &v
		case "min-purchase":
			var v decimal.Decimal
			v, err = parseDecimal("min-purchase", *f.minPurchase)
			p.MinPurchase = &v
		case "max-discount":
			var v decimal.NullDecimal
			v, err = parseNullDecimal(*f.maxDiscount)
			p.MaxDiscount = &v
		case "from":
			var v time.Time
			v, err = parseTime("from", *f.from)
			p.ValidFrom = &v
		case "until":
			var v time.Time
			v, err = parseTime("until", *f.until)
			p.ValidUntil = &v
		case "limit":
			p.UsageLimit = f.limit
		case "applies-to":
			s := coupon.Scope(*f.appliesTo)
			p.AppliesTo = &s
		case "ids":
			ids := splitList(*f.ids)
			p.ApplicableIDs = &ids
		case "active":
			p.IsActive = f.active
		}
	})
	if err != nil {
		return p, errors.Wrapf(err, "flag -%s", field)
	}
	return p, nil
}

func createCmd(fs *flag.FlagSet) exec {
	def := bindDefinition(fs)
	return func(ctx context.Context, svc *coupon.Service) (encodable, error) {
		p := auth.FromContext(ctx)
		d, err := def.definition()
		if err != nil {
			return nil, err
		}
		return svc.Create(ctx, p, d)
	}
}

func updateCmd(fs *flag.FlagSet) exec {
	id := fs.String("id", "", "coupon ID")
	def := bindDefinition(fs)
	return func(ctx context.Context, svc *coupon.Service) (encodable, error) {
		p := auth.FromContext(ctx)
		cid, err := parseID(*id)
		if err != nil {
			return nil, err
		}
		patch, err := def.patch(fs)
		if err != nil {
			return nil, err
		}
		return svc.Update(ctx, p, cid, patch)
	}
}

type deleted uuid.UUID

func (d deleted) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("deleted")
	e.Str(uuid.UUID(d).String())
	e.ObjEnd()
}

func deleteCmd(fs *flag.FlagSet) exec {
	id := fs.String("id", "", "coupon ID")
	return func(ctx context.Context, svc *coupon.Service) (encodable, error) {
		p := auth.FromContext(ctx)
		cid, err := parseID(*id)
		if err != nil {
			return nil, err
		}
		if err := svc.Delete(ctx, p, cid); err != nil {
			return nil, err
		}
		return deleted(cid), nil
	}
}

func getCmd(fs *flag.FlagSet) exec {
	id := fs.String("id", "", "coupon ID")
	return func(ctx context.Context, svc *coupon.Service) (encodable, error) {
		p := auth.FromContext(ctx)
		cid, err := parseID(*id)
		if err != nil {
			return nil, err
		}
		return svc.Get(ctx, p, cid)
	}
}

type listings []coupon.Listing

func (l listings) Encode(e *jx.Encoder) {
	e.ArrStart()
	for _, item := range l {
		item.Encode(e)
	}
	e.ArrEnd()
}

func listCmd(fs *flag.FlagSet) exec {
	code := fs.String("code", "", "case-insensitive code substring")
	limit := fs.Int("limit", 0, "page size (default 50, max 200)")
	offset := fs.Int("offset", 0, "page offset")
	at := fs.String("at", "", "status instant (RFC 3339); default now")
	return func(ctx context.Context, svc *coupon.Service) (encodable, error) {
		p := auth.FromContext(ctx)
		now, err := parseOptionalTime("at", *at)
		if err != nil {
			return nil, err
		}
		if now.IsZero() {
			now = time.Now()
		}
		out, err := svc.List(ctx, p, coupon.ListFilter{CodeContains: *code, Limit: *limit, Offset: *offset}, now)
		if err != nil {
			return nil, err
		}
		return listings(out), nil
	}
}

func validateCmd(commit bool) command {
	return func(fs *flag.FlagSet) exec {
		code := fs.String("code", "", "coupon code")
		total := fs.String("total", "0", "cart total")
		shipping := fs.String("shipping", "0", "shipping cost")
		items := fs.String("items", "", "comma-separated product IDs in the cart")
		categories := fs.String("categories", "", "comma-separated category IDs in the cart")
		at := fs.String("at", "", "evaluation instant (RFC 3339); default now")
		return func(ctx context.Context, svc *coupon.Service) (encodable, error) {
			p := auth.FromContext(ctx)
			rc := coupon.RedemptionContext{
				ItemIDs:     splitList(*items),
				CategoryIDs: splitList(*categories),
			}
			var err error
			if rc.CartTotal, err = parseDecimal("total", *total); err != nil {
				return nil, err
			}
			if rc.ShippingCost, err = parseDecimal("shipping", *shipping); err != nil {
				return nil, err
			}
			if rc.Now, err = parseOptionalTime("at", *at); err != nil {
				return nil, err
			}
			if commit {
				return svc.Redeem(ctx, p, *code, rc)
			}
			return svc.Preview(ctx, p, *code, rc)
		}
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "invalid -id %q", s)
	}
	return id, nil
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "invalid -%s %q", name, s)
	}
	return d, nil
}

func parseNullDecimal(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal("max-discount", s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseTime(name, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid -%s %q", name, s)
	}
	return t, nil
}

func parseOptionalTime(name, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return parseTime(name, s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
