// Package admin serves the control-plane endpoints. The router mounts them
// behind the admin role check.
package admin

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/middleware"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/policy"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// CounterResetter clears the rate limit counters of one client key.
type CounterResetter interface {
	Reset(client string) int
}

type Handler struct {
	authz      *policy.Authorizer
	limiter    CounterResetter
	events     *security.EventLogger
	logger     *slog.Logger
	trustProxy bool
}

func NewHandler(authz *policy.Authorizer, limiter CounterResetter, events *security.EventLogger, logger *slog.Logger, trustProxy bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		authz:      authz,
		limiter:    limiter,
		events:     events,
		logger:     logger.With("component", "admin"),
		trustProxy: trustProxy,
	}
}

type policyResponse struct {
	Tables []policy.TableRules `json:"tables"`
}

type resetResponse struct {
	Key     string `json:"key"`
	Cleared int    `json:"cleared"`
}

// Policy handles GET /api/admin/policy
func (h *Handler) Policy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, policyResponse{Tables: h.authz.Rules()})
}

// ResetRateLimits handles DELETE /api/admin/rate-limits?key=<client>
func (h *Handler) ResetRateLimits(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		lang := apperr.Language(r.Header.Get("Accept-Language"))
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": apperr.New(apperr.MalformedRequest, apperr.MsgKeyRequired).Localize(lang),
		})
		return
	}

	cleared := h.limiter.Reset(key)

	ev := security.Event{
		Name:    security.EventRateLimitReset,
		Success: true,
		IP:      middleware.ClientKey(r, h.trustProxy),
		Path:    r.URL.Path,
		Method:  r.Method,
		Details: map[string]any{"client": key, "cleared": cleared},
	}
	if id := middleware.GetIdentity(r); id != nil {
		ev.UserID = id.UserID
	}
	h.events.Log(r.Context(), ev)
	h.logger.Info("Rate limit counters reset", "client", key, "cleared", cleared)

	writeJSON(w, http.StatusOK, resetResponse{Key: key, Cleared: cleared})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
