package rbac

import (
	"context"
	"errors"
	"testing"

	"investsmart.app/internal/identity"
)

type stubClaims struct {
	claims map[string]any
	err    error
	forced bool
}

func (s *stubClaims) VerifiedClaims(_ context.Context, _ *identity.Identity, forceRefresh bool) (map[string]any, error) {
	s.forced = forceRefresh
	return s.claims, s.err
}

func TestRoleFromClaims(t *testing.T) {
	cases := []struct {
		name   string
		claims map[string]any
		want   Role
	}{
		{"exact admin", map[string]any{"role": "admin"}, RoleAdmin},
		{"missing claim", map[string]any{}, RoleUser},
		{"nil value", map[string]any{"role": nil}, RoleUser},
		{"empty string", map[string]any{"role": ""}, RoleUser},
		{"capitalized", map[string]any{"role": "Admin"}, RoleUser},
		{"administrator", map[string]any{"role": "administrator"}, RoleUser},
		{"numeric", map[string]any{"role": 0}, RoleUser},
		{"boolean", map[string]any{"role": true}, RoleUser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RoleFromClaims(tc.claims); got != tc.want {
				t.Fatalf("RoleFromClaims(%v)=%s, want %s", tc.claims, got, tc.want)
			}
		})
	}
}

func TestResolveForcesRefresh(t *testing.T) {
	src := &stubClaims{claims: map[string]any{"role": "admin"}}
	r, err := NewResolver(src)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	role, err := r.Resolve(context.Background(), &identity.Identity{UID: "u1"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("unexpected role: %s", role)
	}
	if !src.forced {
		t.Fatal("Resolve must force a token refresh")
	}
}

func TestResolveFailsClosed(t *testing.T) {
	src := &stubClaims{err: identity.ErrTokenRefresh}
	r, err := NewResolver(src)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	role, err := r.Resolve(context.Background(), &identity.Identity{UID: "u1"})
	if !errors.Is(err, ErrResolve) {
		t.Fatalf("expected ErrResolve, got %v", err)
	}
	if role != RoleUser {
		t.Fatalf("refresh failure must resolve to user, got %s", role)
	}

	role, err = r.Resolve(context.Background(), nil)
	if !errors.Is(err, ErrResolve) || role != RoleUser {
		t.Fatalf("nil identity must deny, got role=%s err=%v", role, err)
	}
}
