package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apiAdmin "github.com/hcgenc/hcg-aile-sosyal-web/internal/api/admin"
	apiAuth "github.com/hcgenc/hcg-aile-sosyal-web/internal/api/auth"
	apiProxy "github.com/hcgenc/hcg-aile-sosyal-web/internal/api/proxy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/middleware"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

const healthTimeout = 5 * time.Second

// Options are the listener-level settings the router needs.
type Options struct {
	TrustProxy     bool
	AllowedOrigins []string
	MaxBodyBytes   int64
}

type Server struct {
	mux     *http.ServeMux
	store   datastore.Store
	tokens  middleware.TokenVerifier
	limiter *middleware.RateLimiter
	events  *security.EventLogger
	proxy   *apiProxy.Handler
	auth    *apiAuth.Handler
	admin   *apiAdmin.Handler
	opts    Options
}

func New(
	store datastore.Store,
	tokens middleware.TokenVerifier,
	limiter *middleware.RateLimiter,
	events *security.EventLogger,
	proxy *apiProxy.Handler,
	authHandler *apiAuth.Handler,
	adminHandler *apiAdmin.Handler,
	opts Options,
) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		mux:     http.NewServeMux(),
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		events:  events,
		proxy:   proxy,
		auth:    authHandler,
		admin:   adminHandler,
		opts:    opts,
	}
	s.registerRoutes()
	return s
}

// Handler wraps the mux with the outer middleware. Request IDs are assigned
// first so that every later log line and security event carries one.
func (s *Server) Handler() http.Handler {
	return middleware.Chain(s.mux,
		middleware.RequestID,
		middleware.Recovery(s.events, s.opts.TrustProxy),
		securityHeaders,
		s.cors,
	)
}

// securityHeaders adds security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(self)")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")

		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// maxBody limits request body size to prevent DoS via large payloads.
func maxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// route builds the per-route chain: metrics, rate limit, body cap, then any
// extra middleware before the handler.
func (s *Server) route(pattern string, class middleware.Class, h http.HandlerFunc, extra ...func(http.Handler) http.Handler) {
	_, path, _ := strings.Cut(pattern, " ")
	chain := []func(http.Handler) http.Handler{
		middleware.Metrics(path),
		s.limiter.Middleware(class, s.opts.TrustProxy),
		maxBody(s.opts.MaxBodyBytes),
	}
	chain = append(chain, extra...)
	s.mux.Handle(pattern, middleware.Chain(h, chain...))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Data proxy
	s.route("POST /api/supabase", middleware.ClassAPI, s.proxy.Post)
	s.route("GET /api/supabase", middleware.ClassAPI, s.proxy.Get)

	// Credentials
	s.route("POST /api/auth/login", middleware.ClassLogin, s.auth.Login)
	s.route("GET /api/auth/verify", middleware.ClassAPI, s.auth.Verify)

	// Control plane (admin only)
	adminOnly := middleware.RequireRole(s.tokens, s.events, s.opts.TrustProxy, auth.RoleAdmin)
	s.route("GET /api/admin/policy", middleware.ClassControl, s.admin.Policy, adminOnly)
	s.route("DELETE /api/admin/rate-limits", middleware.ClassControl, s.admin.ResetRateLimits, adminOnly)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": "data store unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// cors answers preflights and reflects only whitelisted origins. Requests
// from other origins get no CORS headers, so browsers refuse to read them.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		h.Add("Vary", "Origin")

		allowed := origin != "" && slices.Contains(s.opts.AllowedOrigins, origin)
		if allowed {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", strings.Join([]string{
				"Authorization", "Content-Type", "Accept", "Accept-Language", "X-Request-ID",
			}, ", "))
			h.Set("Access-Control-Expose-Headers", strings.Join([]string{
				"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset",
			}, ", "))
			h.Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusForbidden)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}
