// Package rbac derives the access role from freshly verified token claims.
package rbac

import (
	"context"
	"errors"
	"fmt"

	"investsmart.app/internal/identity"
)

// Role is the closed two-value access level. There is no third state: a
// missing or malformed claim is an ordinary user.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ErrResolve indicates the role could not be resolved because the claims
// refresh failed. Callers must treat this as deny.
var ErrResolve = errors.New("rbac: role resolution failed")

// RoleFromClaims normalizes the role claim. Admin requires the claim value to
// be exactly the string "admin"; undefined, empty, differently cased or
// non-string values all resolve to user.
func RoleFromClaims(claims map[string]any) Role {
	raw, ok := claims[identity.ClaimRole]
	if !ok {
		return RoleUser
	}
	if value, ok := raw.(string); ok && value == "admin" {
		return RoleAdmin
	}
	return RoleUser
}

// Resolver resolves roles against a claims source.
type Resolver struct {
	claims identity.ClaimsSource
}

// NewResolver constructs a Resolver.
func NewResolver(claims identity.ClaimsSource) (*Resolver, error) {
	if claims == nil {
		return nil, errors.New("rbac: claims source is required")
	}
	return &Resolver{claims: claims}, nil
}

// Resolve forces a token refresh and normalizes the role claim. A cached
// token is never trusted here: claims can change server-side between logins.
// On refresh failure it returns (RoleUser, ErrResolve) so callers fail closed
// either way; guards additionally redirect away from privileged views.
func (r *Resolver) Resolve(ctx context.Context, id *identity.Identity) (Role, error) {
	if id == nil {
		return RoleUser, ErrResolve
	}
	claims, err := r.claims.VerifiedClaims(ctx, id, true)
	if err != nil {
		return RoleUser, fmt.Errorf("%w: %v", ErrResolve, err)
	}
	return RoleFromClaims(claims), nil
}
