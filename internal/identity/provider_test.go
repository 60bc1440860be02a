package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestProvider(t *testing.T) (*LocalProvider, *MemoryCredentials) {
	t.Helper()
	creds := NewMemoryCredentials()
	p, err := NewLocalProvider(creds, "test-secret", NewBroadcaster())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	return p, creds
}

func TestRegisterAndAuthenticate(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	id, err := p.Register(ctx, "  Jane@Example.COM ", "hunter22")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id.Email != "jane@example.com" {
		t.Fatalf("email was not normalized: %s", id.Email)
	}
	if id.Token.Raw == "" {
		t.Fatal("expected a minted token")
	}
	if _, ok := id.Token.Claims[ClaimRole]; ok {
		t.Fatalf("fresh registration must not carry a role claim: %v", id.Token.Claims)
	}

	again, err := p.Authenticate(ctx, "jane@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if again.UID != id.UID {
		t.Fatalf("uid changed between register and login: %s vs %s", again.UID, id.UID)
	}

	if _, err := p.Authenticate(ctx, "jane@example.com", "wrong"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
	if _, err := p.Authenticate(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential for unknown user, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()

	if _, err := p.Register(ctx, "dup@example.com", "pw"); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if _, err := p.Register(ctx, "dup@example.com", "pw2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestVerifiedClaimsForcedRefreshPicksUpRoleChange(t *testing.T) {
	p, creds := newTestProvider(t)
	ctx := context.Background()

	id, err := p.Register(ctx, "promoted@example.com", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Server-side promotion after the token was minted.
	if err := creds.SetRoleClaim(ctx, id.UID, "admin"); err != nil {
		t.Fatalf("SetRoleClaim: %v", err)
	}

	cached, err := p.VerifiedClaims(ctx, id, false)
	if err != nil {
		t.Fatalf("VerifiedClaims cached: %v", err)
	}
	if _, ok := cached[ClaimRole]; ok {
		t.Fatalf("cached claims must not see the promotion: %v", cached)
	}

	fresh, err := p.VerifiedClaims(ctx, id, true)
	if err != nil {
		t.Fatalf("VerifiedClaims forced: %v", err)
	}
	if fresh[ClaimRole] != "admin" {
		t.Fatalf("forced refresh missed the promotion: %v", fresh)
	}
	if id.Token.Claims[ClaimRole] != "admin" {
		t.Fatal("forced refresh should replace the cached token")
	}
}

func TestVerifiedClaimsRefreshFailure(t *testing.T) {
	p, _ := newTestProvider(t)
	id := &Identity{UID: "ghost", Token: Token{Claims: map[string]any{ClaimRole: "admin"}}}

	_, err := p.VerifiedClaims(context.Background(), id, true)
	if !errors.Is(err, ErrTokenRefresh) {
		t.Fatalf("expected ErrTokenRefresh, got %v", err)
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	p, creds := newTestProvider(t)
	ctx := context.Background()

	id, err := p.Register(ctx, "parse@example.com", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := creds.SetRoleClaim(ctx, id.UID, "admin"); err != nil {
		t.Fatalf("SetRoleClaim: %v", err)
	}
	if _, err := p.VerifiedClaims(ctx, id, true); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	parsed, err := p.ParseToken(id.Token.Raw)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if parsed.UID != id.UID {
		t.Fatalf("unexpected subject: %s", parsed.UID)
	}
	if parsed.Token.Claims[ClaimRole] != "admin" {
		t.Fatalf("role claim lost in transit: %v", parsed.Token.Claims)
	}

	if _, err := p.ParseToken("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	creds := NewMemoryCredentials()
	past := time.Now().Add(-2 * time.Hour)
	p, err := NewLocalProvider(creds, "test-secret", NewBroadcaster(),
		WithTokenTTL(time.Minute),
		WithClock(func() time.Time { return past }),
	)
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	id, err := p.Register(context.Background(), "stale@example.com", "pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := p.ParseToken(id.Token.Raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	defer sub.Close()

	first := &Identity{UID: "u1"}
	second := &Identity{UID: "u2"}
	b.Publish(first)
	b.Publish(second)
	b.Publish(nil)

	for i, want := range []*Identity{first, second, nil} {
		select {
		case ev := <-sub.C:
			if ev.Identity != want {
				t.Fatalf("event %d: got %v, want %v", i, ev.Identity, want)
			}
		default:
			t.Fatalf("event %d was not delivered", i)
		}
	}
}

func TestBroadcasterCloseDetaches(t *testing.T) {
	b := NewBroadcaster()
	sub := b.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	b.Publish(&Identity{UID: "after-close"})
	if _, ok := <-sub.C; ok {
		t.Fatal("closed subscription must not receive events")
	}
}
