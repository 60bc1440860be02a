// Package identity models the identity-provider boundary: opaque tokens with
// signed claims, credential storage, and the identity-change event stream that
// route guards subscribe to.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidCredential = errors.New("identity: invalid credential")
	ErrInvalidToken      = errors.New("identity: invalid token")
	ErrNotFound          = errors.New("identity: not found")
	ErrConflict          = errors.New("identity: already exists")
	ErrTokenRefresh      = errors.New("identity: token refresh failed")
)

// ClaimRole is the claim authorization decisions are derived from.
const ClaimRole = "role"

// Token is a signed credential asserting a set of claims. A cached token may
// be stale after a server-side role change, so authorization decisions must go
// through VerifiedClaims with forceRefresh instead of reading Claims directly.
type Token struct {
	Raw       string
	Claims    map[string]any
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is a live authenticated identity handle.
type Identity struct {
	UID   string
	Email string
	Token Token
}

// Credential is the provider-owned authentication record. RoleClaim is empty
// when no custom claim was ever set, which resolves to an ordinary user.
type Credential struct {
	UID          string
	Email        string
	PasswordHash string
	RoleClaim    string
	CreatedAt    time.Time
}

// CredentialStore persists provider credentials and their custom claims.
type CredentialStore interface {
	Create(ctx context.Context, cred *Credential) error
	Find(ctx context.Context, uid string) (*Credential, error)
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	SetRoleClaim(ctx context.Context, uid, role string) error
	List(ctx context.Context, limit int) ([]*Credential, error)
}

// ClaimsSource re-fetches verified claims for an identity. forceRefresh
// bypasses the cached token and consults the provider's source of truth.
type ClaimsSource interface {
	VerifiedClaims(ctx context.Context, id *Identity, forceRefresh bool) (map[string]any, error)
}

// Provider is the authentication boundary consumed by the login flow.
type Provider interface {
	ClaimsSource
	Authenticate(ctx context.Context, email, password string) (*Identity, error)
	SignOut(ctx context.Context, id *Identity) error
}
