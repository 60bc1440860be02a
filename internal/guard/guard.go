// Package guard gates protected views on authentication state and resolved
// role. A guard subscribes to the identity-change stream for its mounted
// lifetime and re-runs its full check on every transition, so a sign-out or
// demotion while a view is open revokes access on the next observation.
package guard

import (
	"context"
	"sync"

	"investsmart.app/internal/identity"
	"investsmart.app/internal/rbac"
)

// State is the guard's render decision.
type State int

const (
	// StateChecking renders nothing; the first identity observation or role
	// resolution is still in flight.
	StateChecking State = iota
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateChecking:
		return "checking"
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Route is a navigation target used on denial and after login.
type Route string

const (
	RouteLogin   Route = "/login"
	RouteProfile Route = "/profile"
	RouteAdmin   Route = "/admin"
)

// Decision pairs a state with the redirect to apply when denied.
type Decision struct {
	State    State
	Redirect Route
}

// notifier holds the committed decision and fans changes out to observers.
type notifier struct {
	mu       sync.RWMutex
	decision Decision
	changes  chan Decision
}

func (n *notifier) init() {
	n.decision = Decision{State: StateChecking}
	n.changes = make(chan Decision, 16)
}

func (n *notifier) commit(d Decision) {
	n.mu.Lock()
	n.decision = d
	n.mu.Unlock()
	select {
	case n.changes <- d:
	default:
		// Observer fell behind; drop the oldest so the latest decision wins.
		select {
		case <-n.changes:
		default:
		}
		n.changes <- d
	}
}

func (n *notifier) current() Decision {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.decision
}

// UserGuard allows any authenticated identity and redirects anonymous
// visitors to the login view.
type UserGuard struct {
	notifier
	sub *identity.Subscription
}

// NewUserGuard subscribes to the event stream and starts evaluating.
func NewUserGuard(events *identity.Broadcaster) *UserGuard {
	g := &UserGuard{sub: events.Subscribe()}
	g.init()
	go g.loop()
	return g
}

func (g *UserGuard) loop() {
	for ev := range g.sub.C {
		if ev.Identity == nil {
			g.commit(Decision{State: StateDenied, Redirect: RouteLogin})
			continue
		}
		g.commit(Decision{State: StateAllowed})
	}
}

// Decision returns the last committed decision.
func (g *UserGuard) Decision() Decision { return g.current() }

// Changes streams committed decisions.
func (g *UserGuard) Changes() <-chan Decision { return g.changes }

// Close detaches the guard from the event stream. Must be called on view
// teardown so no decision is committed against a disposed view.
func (g *UserGuard) Close() { g.sub.Close() }

// AdminGuard allows only identities whose role resolves to admin. The role is
// resolved with a forced refresh per observation; resolution errors deny.
// An authenticated non-admin is redirected to the profile view rather than
// login, since the user is signed in, just not privileged.
type AdminGuard struct {
	notifier
	sub      *identity.Subscription
	resolver *rbac.Resolver
	ctx      context.Context
}

// NewAdminGuard subscribes to the event stream and starts evaluating. The
// context bounds role-resolution calls for the guard's lifetime.
func NewAdminGuard(ctx context.Context, events *identity.Broadcaster, resolver *rbac.Resolver) *AdminGuard {
	if ctx == nil {
		ctx = context.Background()
	}
	g := &AdminGuard{
		sub:      events.Subscribe(),
		resolver: resolver,
		ctx:      ctx,
	}
	g.init()
	go g.loop()
	return g
}

func (g *AdminGuard) loop() {
	// Each observation fully resolves before the decision is committed, so a
	// slow resolution can never be overwritten by a staler one.
	for ev := range g.sub.C {
		g.commit(g.evaluate(ev.Identity))
	}
}

func (g *AdminGuard) evaluate(id *identity.Identity) Decision {
	if id == nil {
		return Decision{State: StateDenied, Redirect: RouteLogin}
	}
	role, err := g.resolver.Resolve(g.ctx, id)
	if err != nil || role != rbac.RoleAdmin {
		// Fail closed: resolution errors and ordinary users both deny.
		return Decision{State: StateDenied, Redirect: RouteProfile}
	}
	return Decision{State: StateAllowed}
}

// Decision returns the last committed decision.
func (g *AdminGuard) Decision() Decision { return g.current() }

// Changes streams committed decisions.
func (g *AdminGuard) Changes() <-chan Decision { return g.changes }

// Close detaches the guard from the event stream.
func (g *AdminGuard) Close() { g.sub.Close() }
