package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "admin", want: RoleAdmin},
		{in: " Customer ", want: RoleCustomer},
		{in: "ADMIN", want: RoleAdmin},
		{in: "root", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrincipal_RequireAdmin(t *testing.T) {
	require.ErrorIs(t, Principal{}.RequireAdmin(), ErrUnauthenticated)
	require.ErrorIs(t, Principal{ID: "u1", Role: RoleCustomer}.RequireAdmin(), ErrForbidden)
	require.NoError(t, Principal{ID: "a1", Role: RoleAdmin}.RequireAdmin())
}

func TestPrincipal_RequireAuthenticated(t *testing.T) {
	require.ErrorIs(t, Principal{Role: RoleAdmin}.RequireAuthenticated(), ErrUnauthenticated)
	require.NoError(t, Principal{ID: "u1", Role: RoleCustomer}.RequireAuthenticated())
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.False(t, FromContext(ctx).Authenticated())

	p := Principal{ID: "a1", Role: RoleAdmin}
	assert.Equal(t, p, FromContext(WithPrincipal(ctx, p)))
}
