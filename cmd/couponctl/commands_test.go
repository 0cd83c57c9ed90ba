package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/storage/memory"
)

func newTestService(t *testing.T) *coupon.Service {
	t.Helper()
	repo := memory.NewCouponRepository()
	engine, err := coupon.NewEngine(coupon.NewRepoLedger(repo, 0))
	require.NoError(t, err)
	return coupon.NewService(repo, engine, nil)
}

func runCmd(t *testing.T, svc *coupon.Service, name string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	err := run(context.Background(), svc, &buf, name, args)
	return buf.String(), err
}

// field extracts a top-level string or bool field from a JSON object.
func field(t *testing.T, doc, name string) string {
	t.Helper()
	var out string
	err := jx.DecodeStr(doc).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != name {
			return d.Skip()
		}
		switch d.Next() {
		case jx.Bool:
			v, err := d.Bool()
			if v {
				out = "true"
			} else {
				out = "false"
			}
			return err
		default:
			v, err := d.Str()
			out = v
			return err
		}
	})
	require.NoError(t, err)
	return out
}

var adminFlags = []string{"-as", "ops", "-role", "admin"}

func createSpring(t *testing.T, svc *coupon.Service) string {
	t.Helper()
	out, err := runCmd(t, svc, "create", append(adminFlags,
		"-code", "SPRING15",
		"-type", "fixed",
		"-value", "15",
		"-min-purchase", "75",
		"-from", "2025-03-01T00:00:00Z",
		"-until", "2025-04-01T00:00:00Z",
		"-limit", "1",
	)...)
	require.NoError(t, err)
	return field(t, out, "id")
}

func TestRun_CreatePreviewRedeem(t *testing.T) {
	svc := newTestService(t)
	id := createSpring(t, svc)
	require.NotEmpty(t, id)

	cart := []string{"-as", "cust-1", "-code", "spring15", "-total", "75", "-at", "2025-03-15T12:00:00Z"}

	out, err := runCmd(t, svc, "preview", cart...)
	require.NoError(t, err)
	assert.Equal(t, "true", field(t, out, "eligible"))
	assert.Equal(t, "15.00", field(t, out, "discount"))

	out, err = runCmd(t, svc, "redeem", cart...)
	require.NoError(t, err)
	assert.Equal(t, "true", field(t, out, "eligible"))

	out, err = runCmd(t, svc, "redeem", cart...)
	require.NoError(t, err)
	assert.Equal(t, "false", field(t, out, "eligible"))
	assert.Equal(t, string(coupon.ReasonExhausted), field(t, out, "reason"))
}

func TestRun_UpdateGetDelete(t *testing.T) {
	svc := newTestService(t)
	id := createSpring(t, svc)

	out, err := runCmd(t, svc, "update", append(adminFlags, "-id", id, "-value", "20", "-limit", "5")...)
	require.NoError(t, err)
	assert.Equal(t, "20", field(t, out, "value"))
	assert.Equal(t, "75", field(t, out, "minPurchase"), "unset flags are not patched")

	out, err = runCmd(t, svc, "get", append(adminFlags, "-id", id)...)
	require.NoError(t, err)
	assert.Equal(t, "SPRING15", field(t, out, "code"))

	out, err = runCmd(t, svc, "delete", append(adminFlags, "-id", id)...)
	require.NoError(t, err)
	assert.Equal(t, id, field(t, out, "deleted"))

	_, err = runCmd(t, svc, "get", append(adminFlags, "-id", id)...)
	require.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestRun_List(t *testing.T) {
	svc := newTestService(t)
	createSpring(t, svc)

	out, err := runCmd(t, svc, "list", append(adminFlags, "-code", "spring", "-at", "2025-05-01T00:00:00Z")...)
	require.NoError(t, err)

	var statuses []string
	err = jx.DecodeStr(out).Arr(func(d *jx.Decoder) error {
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "status" {
				return d.Skip()
			}
			s, err := d.Str()
			statuses = append(statuses, s)
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{string(coupon.StatusExpired)}, statuses)
}

func TestRun_Errors(t *testing.T) {
	svc := newTestService(t)

	_, err := runCmd(t, svc, "explode")
	require.ErrorContains(t, err, "unknown command")

	_, err = runCmd(t, svc, "list", "-as", "cust-1")
	require.ErrorIs(t, err, auth.ErrForbidden)

	_, err = runCmd(t, svc, "preview", "-code", "X", "-total", "10")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)

	_, err = runCmd(t, svc, "create", append(adminFlags, "-value", "ten")...)
	require.ErrorContains(t, err, "invalid -value")

	_, err = runCmd(t, svc, "get", append(adminFlags, "-id", "nope")...)
	require.ErrorContains(t, err, "invalid -id")

	_, err = runCmd(t, svc, "list", "-as", "ops", "-role", "root")
	require.ErrorContains(t, err, "unknown role")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
}
