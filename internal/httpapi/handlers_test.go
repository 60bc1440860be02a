package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"investsmart.app/internal/audit"
	"investsmart.app/internal/console"
	"investsmart.app/internal/directory"
	"investsmart.app/internal/flow"
	"investsmart.app/internal/identity"
	"investsmart.app/internal/page"
	"investsmart.app/internal/rbac"
)

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	creds    *identity.MemoryCredentials
	profiles *directory.MemoryStore
	records  *audit.MemoryStore
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	creds := identity.NewMemoryCredentials()
	provider, err := identity.NewLocalProvider(creds, "test-secret", identity.NewBroadcaster())
	if err != nil {
		t.Fatalf("NewLocalProvider: %v", err)
	}
	resolver, err := rbac.NewResolver(provider)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	records := audit.NewMemoryStore()
	auditor, err := audit.NewLogger(resolver, records)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	profiles := directory.NewMemoryStore()
	fl, err := flow.New(provider, resolver, profiles, auditor)
	if err != nil {
		t.Fatalf("flow.New: %v", err)
	}
	con, err := console.New(resolver, profiles, records, auditor)
	if err != nil {
		t.Fatalf("console.New: %v", err)
	}

	api := New(ReadyProbe{}, "test", Services{
		Provider: provider,
		Flow:     fl,
		Console:  con,
		Resolver: resolver,
		Profiles: profiles,
		Audit:    records,
	})

	srv := httptest.NewServer(RequestID(api.Handler()))
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		creds:    creds,
		profiles: profiles,
		records:  records,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// signUp registers through the API and returns the bearer token. role, when
// not empty, is set on the credential afterwards; the forced refresh on the
// next authorization decision picks it up.
func (c *apiClient) signUp(email, role string) (token, uid string) {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"email":      email,
		"password":   "s3cret-pass",
		"first_name": "Test",
		"last_name":  "User",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("register status: %d", resp.StatusCode)
	}
	session := decode[sessionResponse](c.t, resp)
	if role != "" {
		if err := c.creds.SetRoleClaim(context.Background(), session.UID, role); err != nil {
			c.t.Fatalf("SetRoleClaim: %v", err)
		}
	}
	return session.Token, session.UID
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuthRegisterLoginLogoutFlow(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/register", map[string]any{
		"email":      "jane@example.com",
		"password":   "s3cret-pass",
		"first_name": "Jane",
		"last_name":  "Doe",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status: %d", resp.StatusCode)
	}
	created := decode[sessionResponse](t, resp)
	if created.Route != "/profile" || created.Role != "user" {
		t.Fatalf("session = %+v", created)
	}

	resp = api.post("/v1/auth/login", map[string]any{
		"email":    "jane@example.com",
		"password": "s3cret-pass",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	session := decode[sessionResponse](t, resp)
	if session.Token == "" {
		t.Fatal("empty token issued")
	}

	resp = api.post("/v1/auth/logout", nil, bearerHeader(session.Token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout status: %d", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	api := newTestAPI(t)
	api.signUp("jane@example.com", "")

	resp := api.post("/v1/auth/login", map[string]any{
		"email":    "jane@example.com",
		"password": "wrong",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	// Failed attempts leave no audit trace.
	p, err := api.records.List(context.Background(), page.Request{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, rec := range p.Records {
		if rec.Action == audit.ActionSignInEmail {
			t.Fatal("failed login was audited")
		}
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	api := newTestAPI(t)
	api.signUp("jane@example.com", "")

	resp := api.post("/v1/auth/register", map[string]any{
		"email":      "jane@example.com",
		"password":   "other-pass",
		"first_name": "Jane",
		"last_name":  "Doe",
	}, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestAdminEndpointsEnforceRole(t *testing.T) {
	api := newTestAPI(t)
	userToken, _ := api.signUp("jane@example.com", "")

	resp := api.get("/v1/admin/users", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	resp = api.get("/v1/admin/users", nil, bearerHeader(userToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("user status = %d, want 403", resp.StatusCode)
	}

	resp = api.get("/v1/admin/audit", nil, bearerHeader(userToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("audit status = %d, want 403", resp.StatusCode)
	}
}

func TestAdminPromotionTakesEffectWithoutNewToken(t *testing.T) {
	api := newTestAPI(t)
	token, _ := api.signUp("root@example.com", "")

	resp := api.get("/v1/admin/users", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("pre-promotion status = %d, want 403", resp.StatusCode)
	}

	// Promote server-side; the same bearer token must now be admitted since
	// the role is re-resolved against the credential store on every decision.
	session := decode[sessionResponse](t, api.post("/v1/auth/login", map[string]any{
		"email":    "root@example.com",
		"password": "s3cret-pass",
	}, nil))
	if err := api.creds.SetRoleClaim(context.Background(), session.UID, "admin"); err != nil {
		t.Fatalf("SetRoleClaim: %v", err)
	}

	resp = api.get("/v1/admin/users", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post-promotion status = %d, want 200", resp.StatusCode)
	}
}

func seedProfiles(t *testing.T, store *directory.MemoryStore, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		p := &directory.Profile{
			UID:       fmt.Sprintf("uid-%03d", i),
			Email:     fmt.Sprintf("member%03d@example.com", i),
			LastLogin: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
}

func TestAdminUsersPagination(t *testing.T) {
	api := newTestAPI(t)
	adminToken, _ := api.signUp("root@example.com", "admin")
	seedProfiles(t, api.profiles, 40)

	resp := api.get("/v1/admin/users", nil, bearerHeader(adminToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	first := decode[directory.Page](t, resp)
	if len(first.Profiles) != page.DefaultSize {
		t.Fatalf("first page = %d rows, want %d", len(first.Profiles), page.DefaultSize)
	}
	if first.NextCursor == "" {
		t.Fatal("missing next cursor")
	}

	resp = api.get("/v1/admin/users", url.Values{"cursor": {first.NextCursor}}, bearerHeader(adminToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second page status = %d", resp.StatusCode)
	}
	second := decode[directory.Page](t, resp)
	if len(first.Profiles)+len(second.Profiles) != 41 { // 40 seeded + operator
		t.Fatalf("total rows = %d, want 41", len(first.Profiles)+len(second.Profiles))
	}
	if second.NextCursor != "" {
		t.Fatal("last page must not carry a cursor")
	}
}

func TestAdminUsersSearchAndCursorExclusive(t *testing.T) {
	api := newTestAPI(t)
	adminToken, _ := api.signUp("root@example.com", "admin")
	seedProfiles(t, api.profiles, 5)

	resp := api.get("/v1/admin/users", url.Values{
		"search": {"member"},
		"cursor": {"anything"},
	}, bearerHeader(adminToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp = api.get("/v1/admin/users", url.Values{"search": {"member00"}}, bearerHeader(adminToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d", resp.StatusCode)
	}
	results := decode[directory.Page](t, resp)
	if len(results.Profiles) != 5 {
		t.Fatalf("search results = %d rows, want 5", len(results.Profiles))
	}
	if results.NextCursor != "" {
		t.Fatal("search results must not carry a cursor")
	}
}

func TestAdminUsersRejectsForeignCursor(t *testing.T) {
	api := newTestAPI(t)
	adminToken, _ := api.signUp("root@example.com", "admin")

	foreign := page.Encode(audit.Collection, audit.OrderKey, audit.Position(time.Now(), "rec"))
	resp := api.get("/v1/admin/users", url.Values{"cursor": {foreign}}, bearerHeader(adminToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminDisableAndRemove(t *testing.T) {
	api := newTestAPI(t)
	adminToken, _ := api.signUp("root@example.com", "admin")
	seedProfiles(t, api.profiles, 1)

	resp := api.do(http.MethodPost, "/v1/admin/users/uid-000/disabled",
		map[string]any{"disabled": true}, bearerHeader(adminToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("disable status = %d", resp.StatusCode)
	}
	p, err := api.profiles.Find(context.Background(), "uid-000")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !p.Disabled {
		t.Fatal("user not disabled")
	}

	// Removal without confirmation is rejected.
	resp = api.do(http.MethodDelete, "/v1/admin/users/uid-000", nil, bearerHeader(adminToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unconfirmed delete status = %d, want 400", resp.StatusCode)
	}

	headers := bearerHeader(adminToken)
	headers["X-Confirm"] = "true"
	resp = api.do(http.MethodDelete, "/v1/admin/users/uid-000?email=member000%40example.com", nil, headers)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("confirmed delete status = %d", resp.StatusCode)
	}

	trail, err := api.records.List(context.Background(), page.Request{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var sawDisable, sawRemove bool
	for _, rec := range trail.Records {
		switch rec.Action {
		case audit.ActionDisableUser:
			sawDisable = true
		case audit.ActionRemoveProfile:
			sawRemove = true
		}
	}
	if !sawDisable || !sawRemove {
		t.Fatalf("audit trail missing mutations: disable=%v remove=%v", sawDisable, sawRemove)
	}
}

func TestAdminAuditListing(t *testing.T) {
	api := newTestAPI(t)
	adminToken, _ := api.signUp("root@example.com", "admin")

	// First directory load audits the dashboard view.
	resp := api.get("/v1/admin/users", nil, bearerHeader(adminToken))
	resp.Body.Close()

	resp = api.get("/v1/admin/audit", nil, bearerHeader(adminToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	trail := decode[audit.Page](t, resp)
	var sawView bool
	for _, rec := range trail.Records {
		if rec.Action == audit.ActionDashboardView {
			sawView = true
		}
	}
	if !sawView {
		t.Fatal("dashboard_view missing from audit trail")
	}
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}

	resp = api.get("/readyz", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
}
