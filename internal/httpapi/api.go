// Package httpapi is the HTTP surface: authentication, the admin console
// endpoints and the market-data proxy, plus health and metrics plumbing.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"investsmart.app/internal/audit"
	"investsmart.app/internal/console"
	"investsmart.app/internal/directory"
	"investsmart.app/internal/flow"
	"investsmart.app/internal/identity"
	"investsmart.app/internal/market"
	"investsmart.app/internal/obs"
	"investsmart.app/internal/rbac"
)

// ReadyProbe reports backing-store readiness.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services bundles the collaborators the HTTP layer fronts.
type Services struct {
	Provider *identity.LocalProvider
	Flow     *flow.Flow
	Console  *console.Console
	Resolver *rbac.Resolver
	Profiles directory.Store
	Audit    audit.Store
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	provider *identity.LocalProvider
	google   *identity.GoogleProvider
	flow     *flow.Flow
	console  *console.Console
	resolver *rbac.Resolver
	profiles directory.Store
	records  audit.Store
	market   *market.Client
}

// Option configures optional API collaborators.
type Option func(*API)

// WithGoogle enables the federated sign-in endpoints.
func WithGoogle(g *identity.GoogleProvider) Option {
	return func(a *API) { a.google = g }
}

// WithMarket enables the market-data proxy endpoints.
func WithMarket(m *market.Client) Option {
	return func(a *API) { a.market = m }
}

// New constructs the API and registers all routes.
func New(rp ReadyProbe, version string, svc Services, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		provider:   svc.Provider,
		flow:       svc.Flow,
		console:    svc.Console,
		resolver:   svc.Resolver,
		profiles:   svc.Profiles,
		records:    svc.Audit,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	if a.google != nil {
		a.mux.HandleFunc("/v1/auth/google", a.handleGoogleStart)
		a.mux.HandleFunc("/v1/auth/google/callback", a.handleGoogleCallback)
	}

	a.mux.HandleFunc("/v1/admin/users", a.handleAdminUsers)
	a.mux.HandleFunc("/v1/admin/users/", a.handleAdminUserResource)
	a.mux.HandleFunc("/v1/admin/audit", a.handleAdminAudit)

	if a.market != nil {
		a.mux.HandleFunc("/api/indices", a.handleIndices)
		a.mux.HandleFunc("/api/coins", a.handleCoins)
	}

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with metrics instrumentation.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- health handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "investsmart-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "investsmart-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
