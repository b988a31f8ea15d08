package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/auth"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// TokenVerifier checks a bearer credential.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

type contextKey string

const ContextIdentity contextKey = "identity"

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// Authenticate verifies the bearer credential of r.
func Authenticate(v TokenVerifier, r *http.Request) (*auth.Identity, error) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, apperr.New(apperr.Unauthenticated, apperr.MsgAuthRequired)
	}
	id, err := v.Verify(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.Unauthenticated, err, apperr.MsgInvalidToken)
	}
	return id, nil
}

func WithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, ContextIdentity, id)
}

// GetIdentity returns the identity stored by RequireRole, or nil.
func GetIdentity(r *http.Request) *auth.Identity {
	id, _ := r.Context().Value(ContextIdentity).(*auth.Identity)
	return id
}

// RequireRole admits only verified callers holding one of roles. Missing or
// bad credentials get 401, a wrong role gets 403.
func RequireRole(v TokenVerifier, events *security.EventLogger, trustProxy bool, roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := apperr.Language(r.Header.Get("Accept-Language"))
			ev := security.Event{IP: ClientKey(r, trustProxy), Path: r.URL.Path, Method: r.Method}

			id, err := Authenticate(v, r)
			if err != nil {
				ev.Name, ev.Reason = security.EventUnauthenticated, err.Error()
				events.Log(r.Context(), ev)
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": apperr.ClientMessage(err, lang)})
				return
			}
			if !slices.Contains(roles, id.Role) {
				ev.Name, ev.Reason, ev.UserID = security.EventUnauthorized, "role "+string(id.Role)+" not permitted", id.UserID
				events.Log(r.Context(), ev)
				err := apperr.New(apperr.Unauthorized, apperr.MsgForbidden)
				writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Localize(lang)})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
