// Package flow implements the login and registration protocol: authenticate,
// audit the sign-in, resolve the role with a forced refresh, and route to the
// landing view the role entitles.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"investsmart.app/internal/audit"
	"investsmart.app/internal/directory"
	"investsmart.app/internal/guard"
	"investsmart.app/internal/identity"
	"investsmart.app/internal/rbac"
)

// ErrProfileProvisioning marks the partial-failure state where the credential
// was created but the profile record was not. The credential stays valid; the
// console's profile upsert reconciles the missing record on a later
// admin-observed login.
var ErrProfileProvisioning = errors.New("flow: profile provisioning failed")

// Session is the outcome of a successful authentication.
type Session struct {
	Identity *identity.Identity
	Role     rbac.Role
	Route    guard.Route
}

// Flow wires the identity provider, role resolver, profile store and audit
// logger into the login/registration protocol.
type Flow struct {
	provider *identity.LocalProvider
	google   *identity.GoogleProvider
	resolver *rbac.Resolver
	profiles directory.Store
	auditor  *audit.Logger
}

// Option configures optional flow collaborators.
type Option func(*Flow)

// WithGoogle enables the federated sign-in path.
func WithGoogle(g *identity.GoogleProvider) Option {
	return func(f *Flow) { f.google = g }
}

// New constructs a Flow.
func New(provider *identity.LocalProvider, resolver *rbac.Resolver, profiles directory.Store, auditor *audit.Logger, opts ...Option) (*Flow, error) {
	if provider == nil || resolver == nil || profiles == nil || auditor == nil {
		return nil, errors.New("flow: provider, resolver, profiles and auditor are required")
	}
	f := &Flow{provider: provider, resolver: resolver, profiles: profiles, auditor: auditor}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// LoginWithPassword authenticates an email/password pair. Successful logins
// are audited as auth_sign_in_email; failed attempts leave no audit trace and
// the caller stays anonymous.
func (f *Flow) LoginWithPassword(ctx context.Context, email, password string) (Session, error) {
	id, err := f.provider.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	ctx = identity.ContextWithIdentity(ctx, id)
	f.auditor.Log(ctx, audit.ActionSignInEmail, nil, nil)
	return f.sessionFor(ctx, id), nil
}

// LoginWithGoogle completes the federated sign-in with the provider's
// callback code. The role is resolved before the audit record is written so
// the trail distinguishes a privileged sign-in from an ordinary one at the
// moment of login.
func (f *Flow) LoginWithGoogle(ctx context.Context, code string) (Session, error) {
	if f.google == nil {
		return Session{}, errors.New("flow: federated sign-in is not configured")
	}
	id, err := f.google.Exchange(ctx, code)
	if err != nil {
		return Session{}, err
	}
	ctx = identity.ContextWithIdentity(ctx, id)
	session := f.sessionFor(ctx, id)
	if session.Role == rbac.RoleAdmin {
		f.auditor.Log(ctx, audit.ActionSignInAdminGoogle, nil, nil)
	} else {
		f.auditor.Log(ctx, audit.ActionSignInGoogle, nil, nil)
	}
	return session, nil
}

// Register creates a new credential and its profile record. When the profile
// write fails after the credential succeeded the error wraps
// ErrProfileProvisioning; no automatic rollback is attempted.
func (f *Flow) Register(ctx context.Context, email, password, firstName, lastName string) (Session, error) {
	id, err := f.provider.Register(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	ctx = identity.ContextWithIdentity(ctx, id)
	f.auditor.Log(ctx, audit.ActionSignUpEmail, nil, nil)

	profile := &directory.Profile{
		UID:       id.UID,
		Email:     id.Email,
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
	}
	if err := f.profiles.Create(ctx, profile); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrProfileProvisioning, err)
	}
	return f.sessionFor(ctx, id), nil
}

// SignOut audits the sign-out while the identity is still attached, then
// tears the session down.
func (f *Flow) SignOut(ctx context.Context, id *identity.Identity) error {
	ctx = identity.ContextWithIdentity(ctx, id)
	f.auditor.Log(ctx, audit.ActionSignOut, nil, nil)
	return f.provider.SignOut(ctx, id)
}

// sessionFor resolves the role and picks the landing route. Resolution
// failures fail closed into the ordinary-user route.
func (f *Flow) sessionFor(ctx context.Context, id *identity.Identity) Session {
	role, err := f.resolver.Resolve(ctx, id)
	if err != nil {
		role = rbac.RoleUser
	}
	route := guard.RouteProfile
	if role == rbac.RoleAdmin {
		route = guard.RouteAdmin
	}
	return Session{Identity: id, Role: role, Route: route}
}
