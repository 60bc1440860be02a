package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"investsmart.app/internal/audit"
	"investsmart.app/internal/config"
	"investsmart.app/internal/console"
	"investsmart.app/internal/directory"
	"investsmart.app/internal/flow"
	"investsmart.app/internal/httpapi"
	"investsmart.app/internal/identity"
	"investsmart.app/internal/market"
	"investsmart.app/internal/obs"
	"investsmart.app/internal/rbac"
	"investsmart.app/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GIT_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AuthSecret == "" {
		log.Fatal("INVESTSMART_AUTH_SECRET is required")
	}

	// The recognized action list is closed; refuse to boot on drift.
	if err := audit.VerifyActions(audit.Actions()...); err != nil {
		log.Fatalf("audit actions: %v", err)
	}

	var (
		creds    identity.CredentialStore
		profiles directory.Store
		records  audit.Store
		probe    httpapi.ReadyProbe
	)
	if cfg.PostgresDSN != "" {
		store, err := pg.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer store.Close()
		creds = store.Credentials()
		profiles = store.Profiles()
		records = store.AuditLog()
		probe = httpapi.ReadyProbe{DB: store.DB()}
	} else {
		log.Print("no INVESTSMART_PG_DSN set, using in-memory stores")
		creds = identity.NewMemoryCredentials()
		profiles = directory.NewMemoryStore()
		records = audit.NewMemoryStore()
	}

	events := identity.NewBroadcaster()
	provider, err := identity.NewLocalProvider(creds, cfg.AuthSecret, events,
		identity.WithIssuer(cfg.AuthIssuer),
		identity.WithTokenTTL(time.Duration(cfg.TokenTTLMin)*time.Minute),
		identity.WithBcryptCost(cfg.BcryptCost))
	if err != nil {
		log.Fatalf("identity provider: %v", err)
	}
	resolver, err := rbac.NewResolver(provider)
	if err != nil {
		log.Fatalf("role resolver: %v", err)
	}
	auditor, err := audit.NewLogger(resolver, records)
	if err != nil {
		log.Fatalf("audit logger: %v", err)
	}

	flowOpts := []flow.Option{}
	apiOpts := []httpapi.Option{}
	if cfg.GoogleClientID != "" {
		google, err := identity.NewGoogleProvider(context.Background(), provider,
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
		if err != nil {
			log.Fatalf("google provider: %v", err)
		}
		flowOpts = append(flowOpts, flow.WithGoogle(google))
		apiOpts = append(apiOpts, httpapi.WithGoogle(google))
	}

	fl, err := flow.New(provider, resolver, profiles, auditor, flowOpts...)
	if err != nil {
		log.Fatalf("flow: %v", err)
	}
	con, err := console.New(resolver, profiles, records, auditor)
	if err != nil {
		log.Fatalf("console: %v", err)
	}

	quotes := market.NewClient(time.Duration(cfg.IndicesTimeoutSec)*time.Second, cfg.CoinsCurrency)
	apiOpts = append(apiOpts, httpapi.WithMarket(quotes))

	api := httpapi.New(probe, version, httpapi.Services{
		Provider: provider,
		Flow:     fl,
		Console:  con,
		Resolver: resolver,
		Profiles: profiles,
		Audit:    records,
	}, apiOpts...)

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.RateLimit(handler, cfg.RateBurst, cfg.RatePerSecond)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting investsmart-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
