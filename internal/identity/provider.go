package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"investsmart.app/internal/ids"
)

const defaultTokenTTL = time.Hour

// LocalProvider authenticates email/password credentials and mints HS256
// tokens carrying the role claim. It is the source of truth consulted on
// forced refresh: claims are re-read from the credential store, never from
// the cached token.
type LocalProvider struct {
	creds      CredentialStore
	events     *Broadcaster
	secret     []byte
	issuer     string
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
}

// ProviderOption configures LocalProvider behavior.
type ProviderOption func(*LocalProvider)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ProviderOption {
	return func(p *LocalProvider) {
		if iss := strings.TrimSpace(issuer); iss != "" {
			p.issuer = iss
		}
	}
}

// WithTokenTTL configures token lifetime.
func WithTokenTTL(ttl time.Duration) ProviderOption {
	return func(p *LocalProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithBcryptCost configures the password hashing cost.
func WithBcryptCost(cost int) ProviderOption {
	return func(p *LocalProvider) {
		if cost > 0 {
			p.bcryptCost = cost
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ProviderOption {
	return func(p *LocalProvider) {
		if fn != nil {
			p.now = fn
		}
	}
}

// NewLocalProvider constructs a provider over the given credential store.
func NewLocalProvider(creds CredentialStore, secret string, events *Broadcaster, opts ...ProviderOption) (*LocalProvider, error) {
	if creds == nil {
		return nil, errors.New("identity: credential store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("identity: signing secret is required")
	}
	if events == nil {
		events = NewBroadcaster()
	}
	p := &LocalProvider{
		creds:      creds,
		events:     events,
		secret:     []byte(secret),
		issuer:     "investsmart",
		ttl:        defaultTokenTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Events exposes the identity-change stream guards subscribe to.
func (p *LocalProvider) Events() *Broadcaster { return p.events }

type tokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (p *LocalProvider) mint(cred *Credential) (Token, error) {
	now := p.now().UTC()
	claims := tokenClaims{
		Role: cred.RoleClaim,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   cred.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	claimSet := map[string]any{"sub": cred.UID, "email": cred.Email}
	if cred.RoleClaim != "" {
		claimSet[ClaimRole] = cred.RoleClaim
	}
	return Token{
		Raw:       signed,
		Claims:    claimSet,
		IssuedAt:  now,
		ExpiresAt: now.Add(p.ttl),
	}, nil
}

func (p *LocalProvider) identityFor(cred *Credential) (*Identity, error) {
	token, err := p.mint(cred)
	if err != nil {
		return nil, err
	}
	return &Identity{UID: cred.UID, Email: cred.Email, Token: token}, nil
}

// Authenticate verifies an email/password pair and emits an identity-change
// event on success. Invalid email, unknown user and bad password all collapse
// into ErrInvalidCredential.
func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredential
	}
	cred, err := p.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	if err := VerifyPassword(cred.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredential
	}
	id, err := p.identityFor(cred)
	if err != nil {
		return nil, err
	}
	p.events.Publish(id)
	return id, nil
}

// Register provisions a new credential and signs the user in.
func (p *LocalProvider) Register(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidCredential)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidCredential)
	}
	hash, err := HashPasswordCost(password, p.bcryptCost)
	if err != nil {
		return nil, err
	}
	cred := &Credential{
		UID:          ids.New(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := p.creds.Create(ctx, cred); err != nil {
		return nil, err
	}
	id, err := p.identityFor(cred)
	if err != nil {
		return nil, err
	}
	p.events.Publish(id)
	return id, nil
}

// SignOut invalidates the session and emits a nil identity event.
func (p *LocalProvider) SignOut(ctx context.Context, id *Identity) error {
	p.events.Publish(nil)
	return nil
}

// VerifiedClaims returns the identity's claims. With forceRefresh the claims
// are re-read from the credential store and a fresh token replaces the cached
// one, so a server-side role change is picked up immediately; without it the
// cached token's claims are returned as-is.
func (p *LocalProvider) VerifiedClaims(ctx context.Context, id *Identity, forceRefresh bool) (map[string]any, error) {
	if id == nil {
		return nil, ErrInvalidToken
	}
	if !forceRefresh {
		return copyClaims(id.Token.Claims), nil
	}
	cred, err := p.creds.Find(ctx, id.UID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	token, err := p.mint(cred)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenRefresh, err)
	}
	id.Token = token
	return copyClaims(token.Claims), nil
}

// ParseToken verifies a raw bearer token and reconstructs the identity handle.
func (p *LocalProvider) ParseToken(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	}, jwt.WithIssuer(p.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	claimSet := map[string]any{"sub": claims.Subject}
	if claims.Role != "" {
		claimSet[ClaimRole] = claims.Role
	}
	token := Token{Raw: raw, Claims: claimSet}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		token.ExpiresAt = claims.ExpiresAt.Time
	}

	id := &Identity{UID: claims.Subject, Token: token}
	if cred, err := p.creds.Find(context.Background(), claims.Subject); err == nil {
		id.Email = cred.Email
		claimSet["email"] = cred.Email
	}
	return id, nil
}

// ensureFederated finds or provisions the credential backing a federated
// sign-in. Federated credentials carry no password hash, so a password login
// against them always fails.
func (p *LocalProvider) ensureFederated(ctx context.Context, email string) (*Credential, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: federated identity without email", ErrInvalidCredential)
	}
	cred, err := p.creds.FindByEmail(ctx, email)
	if err == nil {
		return cred, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	cred = &Credential{UID: ids.New(), Email: email}
	if err := p.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrConflict) {
			return p.creds.FindByEmail(ctx, email)
		}
		return nil, err
	}
	return cred, nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func copyClaims(claims map[string]any) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}
