package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const googleIssuer = "https://accounts.google.com"

// GoogleProvider implements the federated sign-in path. The Google ID token
// proves who the user is; the role claim still comes from the local
// credential store, so a federated admin is recognised only after role
// resolution, not from anything Google asserts.
type GoogleProvider struct {
	local    *LocalProvider
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
}

// NewGoogleProvider discovers the Google OIDC endpoints and wires the
// federated flow onto the local provider.
func NewGoogleProvider(ctx context.Context, local *LocalProvider, clientID, clientSecret, redirectURL string) (*GoogleProvider, error) {
	if local == nil {
		return nil, errors.New("identity: local provider is required")
	}
	if clientID == "" || clientSecret == "" {
		return nil, errors.New("identity: google client credentials are required")
	}
	provider, err := oidc.NewProvider(ctx, googleIssuer)
	if err != nil {
		return nil, fmt.Errorf("discover google provider: %w", err)
	}
	return &GoogleProvider{
		local:    local,
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
	}, nil
}

// AuthCodeURL builds the consent redirect. Account selection is always
// prompted so a shared browser cannot silently reuse the previous session.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the callback code for a verified identity. The credential
// is provisioned on first federated sign-in.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrInvalidCredential)
	}
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id_token in response", ErrInvalidCredential)
	}
	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !claims.EmailVerified {
		return nil, fmt.Errorf("%w: unverified google account", ErrInvalidCredential)
	}

	cred, err := g.local.ensureFederated(ctx, claims.Email)
	if err != nil {
		return nil, err
	}
	id, err := g.local.identityFor(cred)
	if err != nil {
		return nil, err
	}
	g.local.events.Publish(id)
	return id, nil
}
