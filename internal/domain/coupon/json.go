package coupon

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Encode writes c as a JSON object. Money values are encoded as strings to
// keep their exact decimal representation.
func (c *Coupon) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID.String())
	e.FieldStart("code")
	e.Str(c.Code)
	e.FieldStart("discountType")
	e.Str(string(c.DiscountType))
	e.FieldStart("value")
	e.Str(c.Value.String())
	e.FieldStart("minPurchase")
	e.Str(c.MinPurchase.String())
	e.FieldStart("maxDiscount")
	if c.MaxDiscount.Valid {
		e.Str(c.MaxDiscount.Decimal.String())
	} else {
		e.Null()
	}
	e.FieldStart("validFrom")
	encodeTime(e, c.ValidFrom)
	e.FieldStart("validUntil")
	encodeTime(e, c.ValidUntil)
	e.FieldStart("usageLimit")
	e.Int(c.UsageLimit)
	e.FieldStart("usageCount")
	e.Int(c.UsageCount)
	e.FieldStart("appliesTo")
	e.Str(string(c.AppliesTo))
	e.FieldStart("applicableIds")
	e.ArrStart()
	for _, id := range c.ApplicableIDs {
		e.Str(id)
	}
	e.ArrEnd()
	e.FieldStart("isActive")
	e.Bool(c.IsActive)
	e.FieldStart("version")
	e.Int(c.Version)
	e.FieldStart("createdAt")
	encodeTime(e, c.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, c.UpdatedAt)
	e.ObjEnd()
}

// Decode reads c from a JSON object written by Encode. Unknown fields are skipped.
func (c *Coupon) Decode(d *jx.Decoder) error {
	if c == nil {
		return errors.New("invalid: unable to decode Coupon to nil")
	}
	return d.ObjBytes(func(d *jx.Decoder, k []byte) error {
		var err error
		switch string(k) {
		case "id":
			var s string
			if s, err = d.Str(); err == nil {
				c.ID, err = uuid.Parse(s)
			}
		case "code":
			c.Code, err = d.Str()
		case "discountType":
			var s string
			s, err = d.Str()
			c.DiscountType = DiscountType(s)
		case "value":
			c.Value, err = decodeDecimal(d)
		case "minPurchase":
			c.MinPurchase, err = decodeDecimal(d)
		case "maxDiscount":
			if d.Next() == jx.Null {
				c.MaxDiscount = decimal.NullDecimal{}
				err = d.Null()
				break
			}
			c.MaxDiscount.Decimal, err = decodeDecimal(d)
			c.MaxDiscount.Valid = err == nil
		case "validFrom":
			c.ValidFrom, err = decodeTime(d)
		case "validUntil":
			c.ValidUntil, err = decodeTime(d)
		case "usageLimit":
			c.UsageLimit, err = d.Int()
		case "usageCount":
			c.UsageCount, err = d.Int()
		case "appliesTo":
			var s string
			s, err = d.Str()
			c.AppliesTo = Scope(s)
		case "applicableIds":
			c.ApplicableIDs = nil
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				if err != nil {
					return err
				}
				c.ApplicableIDs = append(c.ApplicableIDs, s)
				return nil
			})
		case "isActive":
			c.IsActive, err = d.Bool()
		case "version":
			c.Version, err = d.Int()
		case "createdAt":
			c.CreatedAt, err = decodeTime(d)
		case "updatedAt":
			c.UpdatedAt, err = decodeTime(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode field %q", k)
		}
		return nil
	})
}

// MarshalJSON implements json.Marshaler.
func (c *Coupon) MarshalJSON() ([]byte, error) {
	e := jx.Encoder{}
	c.Encode(&e)
	return e.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Coupon) UnmarshalJSON(data []byte) error {
	return c.Decode(jx.DecodeBytes(data))
}

// Encode writes the result as a JSON object.
func (r Result) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("eligible")
	e.Bool(r.Eligible)
	e.FieldStart("status")
	e.Str(string(r.Status))
	if r.Reason != "" {
		e.FieldStart("reason")
		e.Str(string(r.Reason))
	}
	e.FieldStart("discount")
	e.Str(r.Discount.Amount.StringFixed(2))
	if r.Discount.Deferred {
		e.FieldStart("deferred")
		e.Bool(true)
		e.FieldStart("rule")
		e.Str(r.Discount.Rule.String())
	}
	e.FieldStart("usageCount")
	e.Int(r.UsageCount)
	e.ObjEnd()
}

// Encode writes the redemption as a JSON object.
func (r Redemption) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("couponId")
	e.Str(r.CouponID.String())
	e.FieldStart("code")
	e.Str(r.Code)
	e.FieldStart("principalId")
	e.Str(r.PrincipalID)
	e.FieldStart("discount")
	e.Str(r.Discount.StringFixed(2))
	e.FieldStart("deferred")
	e.Bool(r.Deferred)
	e.FieldStart("usageCount")
	e.Int(r.UsageCount)
	e.FieldStart("redeemedAt")
	encodeTime(e, r.RedeemedAt)
	e.ObjEnd()
}

// Encode writes the listing as the coupon object extended with its status.
func (l Listing) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(l.Status))
	e.FieldStart("coupon")
	l.Coupon.Encode(e)
	e.ObjEnd()
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}

// decodeDecimal accepts both string and number encodings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s for decimal", d.Next())
	}
}
