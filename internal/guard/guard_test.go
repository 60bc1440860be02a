package guard

import (
	"context"
	"testing"
	"time"

	"investsmart.app/internal/identity"
	"investsmart.app/internal/rbac"
)

type claimsStub struct {
	roles map[string]any // uid -> role claim value
	err   error
}

func (s *claimsStub) VerifiedClaims(_ context.Context, id *identity.Identity, forceRefresh bool) (map[string]any, error) {
	if !forceRefresh {
		panic("guards must force a refresh")
	}
	if s.err != nil {
		return nil, s.err
	}
	claims := map[string]any{}
	if role, ok := s.roles[id.UID]; ok {
		claims["role"] = role
	}
	return claims, nil
}

func waitDecision(t *testing.T, changes <-chan Decision) Decision {
	t.Helper()
	select {
	case d := <-changes:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a guard decision")
		return Decision{}
	}
}

func newResolver(t *testing.T, src *claimsStub) *rbac.Resolver {
	t.Helper()
	r, err := rbac.NewResolver(src)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestUserGuardStartsChecking(t *testing.T) {
	events := identity.NewBroadcaster()
	g := NewUserGuard(events)
	defer g.Close()

	if d := g.Decision(); d.State != StateChecking {
		t.Fatalf("initial state must be checking, got %s", d.State)
	}
}

func TestUserGuardAllowsAuthenticated(t *testing.T) {
	events := identity.NewBroadcaster()
	g := NewUserGuard(events)
	defer g.Close()

	events.Publish(&identity.Identity{UID: "u1"})
	if d := waitDecision(t, g.Changes()); d.State != StateAllowed {
		t.Fatalf("expected allowed, got %s", d.State)
	}

	// External sign-out must revoke on the next observation.
	events.Publish(nil)
	d := waitDecision(t, g.Changes())
	if d.State != StateDenied || d.Redirect != RouteLogin {
		t.Fatalf("expected denied with login redirect, got %+v", d)
	}
}

func TestUserGuardMountedMidSessionSeesCurrentState(t *testing.T) {
	events := identity.NewBroadcaster()
	events.Publish(&identity.Identity{UID: "u1"})

	// A guard mounted after sign-in must settle without another transition.
	g := NewUserGuard(events)
	defer g.Close()

	if d := waitDecision(t, g.Changes()); d.State != StateAllowed {
		t.Fatalf("expected allowed from the seeded observation, got %+v", d)
	}
}

func TestAdminGuardAllowsAdmin(t *testing.T) {
	events := identity.NewBroadcaster()
	src := &claimsStub{roles: map[string]any{"boss": "admin"}}
	g := NewAdminGuard(context.Background(), events, newResolver(t, src))
	defer g.Close()

	events.Publish(&identity.Identity{UID: "boss"})
	if d := waitDecision(t, g.Changes()); d.State != StateAllowed {
		t.Fatalf("expected allowed, got %+v", d)
	}
}

func TestAdminGuardDeniesOrdinaryUser(t *testing.T) {
	events := identity.NewBroadcaster()
	src := &claimsStub{roles: map[string]any{}}
	g := NewAdminGuard(context.Background(), events, newResolver(t, src))
	defer g.Close()

	events.Publish(&identity.Identity{UID: "pleb"})
	d := waitDecision(t, g.Changes())
	if d.State != StateDenied || d.Redirect != RouteProfile {
		t.Fatalf("authenticated non-admin must redirect to profile, got %+v", d)
	}
}

func TestAdminGuardDeniesAnonymous(t *testing.T) {
	events := identity.NewBroadcaster()
	g := NewAdminGuard(context.Background(), events, newResolver(t, &claimsStub{}))
	defer g.Close()

	events.Publish(nil)
	d := waitDecision(t, g.Changes())
	if d.State != StateDenied || d.Redirect != RouteLogin {
		t.Fatalf("anonymous must redirect to login, got %+v", d)
	}
}

func TestAdminGuardFailsClosedOnResolutionError(t *testing.T) {
	events := identity.NewBroadcaster()
	src := &claimsStub{err: identity.ErrTokenRefresh}
	g := NewAdminGuard(context.Background(), events, newResolver(t, src))
	defer g.Close()

	events.Publish(&identity.Identity{UID: "boss"})
	d := waitDecision(t, g.Changes())
	if d.State != StateDenied || d.Redirect != RouteProfile {
		t.Fatalf("resolution error must deny, got %+v", d)
	}
}

func TestAdminGuardRevokesOnDemotion(t *testing.T) {
	events := identity.NewBroadcaster()
	src := &claimsStub{roles: map[string]any{"boss": "admin"}}
	g := NewAdminGuard(context.Background(), events, newResolver(t, src))
	defer g.Close()

	boss := &identity.Identity{UID: "boss"}
	events.Publish(boss)
	if d := waitDecision(t, g.Changes()); d.State != StateAllowed {
		t.Fatalf("expected allowed, got %+v", d)
	}

	// Demotion server-side; the next auth-state observation re-checks.
	src.roles["boss"] = "user"
	events.Publish(boss)
	d := waitDecision(t, g.Changes())
	if d.State != StateDenied || d.Redirect != RouteProfile {
		t.Fatalf("demotion must revoke access, got %+v", d)
	}
}

func TestGuardCloseStopsUpdates(t *testing.T) {
	events := identity.NewBroadcaster()
	g := NewUserGuard(events)

	events.Publish(&identity.Identity{UID: "u1"})
	waitDecision(t, g.Changes())

	g.Close()
	events.Publish(nil)

	// The loop drains on close; the decision must stay allowed.
	time.Sleep(50 * time.Millisecond)
	if d := g.Decision(); d.State != StateAllowed {
		t.Fatalf("closed guard must not keep updating, got %+v", d)
	}
}
