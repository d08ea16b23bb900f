// Package auth verifies caller identity claims and checks them against the
// roles a route requires.
package auth

import (
	"context"
	"fmt"
	"slices"

	apperrors "github.com/SaleDjerfi/shopit/pkg/errors"
)

// Role is the closed set of caller roles.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// ParseRole accepts only the known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleCustomer, RoleAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Identity is a verified caller. It lives for one request and is never stored.
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the identity holds the admin role.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// Authorize fails with Forbidden unless id holds one of allowed.
func Authorize(id *Identity, allowed ...Role) error {
	if id == nil {
		return apperrors.Unauthenticated("login first to access this resource")
	}
	if !slices.Contains(allowed, id.Role) {
		return apperrors.Forbidden(fmt.Sprintf("role (%s) is not allowed to access this resource", id.Role))
	}
	return nil
}

type contextKey struct{}

// NewContext stores id on ctx.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// IdentityFromContext returns the identity stored by the identity guard.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}
