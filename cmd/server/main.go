package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apiAdmin "github.com/hcgenc/hcg-aile-sosyal-web/internal/api/admin"
	apiAuth "github.com/hcgenc/hcg-aile-sosyal-web/internal/api/auth"
	apiProxy "github.com/hcgenc/hcg-aile-sosyal-web/internal/api/proxy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/config"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/database"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore/memstore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/middleware"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/postgrest"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open data store: %v", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("Failed to create token service: %v", err)
	}
	authz, err := policy.NewAuthorizer()
	if err != nil {
		log.Fatalf("Failed to load access policy: %v", err)
	}

	events := security.NewEventLogger(logger)
	limiter := middleware.NewRateLimiter(map[middleware.Class]middleware.Rule{
		middleware.ClassAPI:     {Limit: cfg.APIMax, Window: cfg.RateLimitWindow},
		middleware.ClassLogin:   {Limit: cfg.LoginMax, Window: cfg.RateLimitWindow},
		middleware.ClassControl: {Limit: cfg.ControlMax, Window: cfg.RateLimitWindow},
	}, nil, events)
	logins := auth.NewLoginService(auth.NewStoreUsers(store), tokens)

	srv := server.New(store, tokens, limiter, events,
		apiProxy.NewHandler(store, tokens, authz, events, logger, apiProxy.Config{
			TrustProxy:   cfg.TrustProxy,
			StoreTimeout: cfg.StoreTimeout,
		}),
		apiAuth.NewHandler(logins, tokens, events, logger, cfg.TrustProxy),
		apiAdmin.NewHandler(authz, limiter, events, logger, cfg.TrustProxy),
		server.Options{
			TrustProxy:     cfg.TrustProxy,
			AllowedOrigins: cfg.AllowedOrigins,
			MaxBodyBytes:   cfg.MaxBodyBytes,
		},
	)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.StoreTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("Shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		httpServer.Shutdown(shutCtx)
		store.Close()
	}()

	slog.Info("Server started", "host", cfg.Host, "port", cfg.Port, "trust_proxy", cfg.TrustProxy)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// openStore picks the backend from the scheme of SUPABASE_URL.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (datastore.Store, error) {
	scheme, err := cfg.StoreScheme()
	if err != nil {
		return nil, err
	}

	switch scheme {
	case "http":
		slog.Info("Using PostgREST data store", "url", cfg.StoreURL)
		return postgrest.New(postgrest.Config{
			BaseURL:    cfg.StoreURL,
			AnonKey:    cfg.AnonKey,
			ServiceKey: cfg.ServiceKey,
			HTTPClient: &http.Client{Timeout: cfg.StoreTimeout},
			Logger:     logger,
		})

	case "postgres":
		slog.Info("Connecting to database")
		pool, err := database.NewPool(ctx, cfg.StoreURL)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			slog.Info("Running schema migrations")
			if err := database.RunMigrations(ctx, pool, database.AppMigrations()); err != nil {
				pool.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			slog.Info("Schema migrations complete")
		}
		store, err := database.NewStore(pool, cfg.AnonKey, cfg.ServiceKey, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	default:
		slog.Warn("Using in-memory data store; data is lost on restart")
		return memstore.New(), nil
	}
}
