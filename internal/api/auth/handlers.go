// Package auth serves the login and session check endpoints of the map
// client.
package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	appauth "github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/middleware"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// maxLoginBody caps the login payload; a username and password never need more.
const maxLoginBody = 4 << 10

type Handler struct {
	logins     *appauth.LoginService
	tokens     middleware.TokenVerifier
	events     *security.EventLogger
	logger     *slog.Logger
	trustProxy bool
}

func NewHandler(logins *appauth.LoginService, tokens middleware.TokenVerifier, events *security.EventLogger, logger *slog.Logger, trustProxy bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logins:     logins,
		tokens:     tokens,
		events:     events,
		logger:     logger.With("component", "auth"),
		trustProxy: trustProxy,
	}
}

type verifyResponse struct {
	Valid bool              `json:"valid"`
	User  *appauth.Identity `json:"user,omitempty"`
}

// Login handles POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	lang := apperr.Language(r.Header.Get("Accept-Language"))
	ev := security.Event{IP: middleware.ClientKey(r, h.trustProxy), Path: r.URL.Path, Method: r.Method}

	var req appauth.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLoginBody)).Decode(&req); err != nil {
		ev.Name, ev.Reason = security.EventMalformedRequest, "invalid login body"
		h.events.Log(r.Context(), ev)
		writeError(w, http.StatusBadRequest, apperr.New(apperr.MalformedRequest, apperr.MsgInvalidJSON).Localize(lang))
		return
	}
	ev.Details = map[string]any{"username": strings.TrimSpace(req.Username)}

	resp, err := h.logins.Login(r.Context(), req)
	if err != nil {
		kind := apperr.KindOf(err)
		switch kind {
		case apperr.RateLimitExceeded:
			ev.Name = security.EventLoginLocked
			var locked *appauth.LockedError
			if errors.As(err, &locked) {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(locked.RetryAfter.Seconds()))))
			}
		case apperr.Unauthenticated, apperr.MalformedRequest:
			ev.Name = security.EventLoginFailed
		default:
			ev.Name = security.EventUnexpected
			h.logger.Error("Login failed unexpectedly", "error", err)
		}
		ev.Reason = err.Error()
		h.events.Log(r.Context(), ev)
		writeError(w, apperr.Status(kind), apperr.ClientMessage(err, lang))
		return
	}

	ev.Name, ev.Success, ev.UserID = security.EventLoginSuccess, true, resp.User.ID
	h.events.Log(r.Context(), ev)
	writeJSON(w, http.StatusOK, resp)
}

// Verify handles GET /api/auth/verify. An invalid credential is a normal
// answer here, not an error.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.Authenticate(h.tokens, r)
	if err != nil {
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			h.logger.Error("Token verification failed", "error", err)
		}
		writeJSON(w, http.StatusUnauthorized, verifyResponse{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
