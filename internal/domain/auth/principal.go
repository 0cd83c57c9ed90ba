// Package auth models the already-authenticated caller identity handed to the
// coupon service by the surrounding identity provider.
package auth

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Role is the authorization role of a principal.
type Role string

const (
	// RoleAdmin may edit coupon definitions.
	RoleAdmin Role = "admin"
	// RoleCustomer may preview and redeem coupons.
	RoleCustomer Role = "customer"
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleCustomer:
		return r, nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

var (
	// ErrUnauthenticated is returned when no principal identity is present.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Principal is a caller identity verified upstream. This package never
// authenticates; it only answers authorization questions.
type Principal struct {
	ID   string
	Role Role
}

// Authenticated reports whether the principal carries an identity.
func (p Principal) Authenticated() bool {
	return p.ID != ""
}

// RequireAuthenticated returns ErrUnauthenticated for an anonymous principal.
func (p Principal) RequireAuthenticated() error {
	if !p.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}

// RequireAdmin returns an error unless the principal is an administrator.
func (p Principal) RequireAdmin() error {
	if err := p.RequireAuthenticated(); err != nil {
		return err
	}
	if p.Role != RoleAdmin {
		return errors.Wrapf(ErrForbidden, "principal %q has role %q", p.ID, p.Role)
	}
	return nil
}

type principalKey struct{}

// WithPrincipal stores p in the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext extracts the principal from ctx. It returns the zero
// (anonymous) principal if none is present.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}
