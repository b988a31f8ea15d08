package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

var validRequestID = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// RequestID tags every request with an ID, reusing a well-formed upstream
// X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID.MatchString(id) {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(security.ContextWithRequestID(r.Context(), id)))
	})
}
