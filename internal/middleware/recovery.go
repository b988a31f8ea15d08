package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/security"
)

// Recovery turns a panic into a generic 500. The stack is logged, never sent.
func Recovery(events *security.EventLogger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				events.Log(r.Context(), security.Event{
					Name:    security.EventPanic,
					Reason:  fmt.Sprint(rec),
					IP:      ClientKey(r, trustProxy),
					Path:    r.URL.Path,
					Method:  r.Method,
					Details: map[string]any{"stack": string(debug.Stack())},
				})
				lang := apperr.Language(r.Header.Get("Accept-Language"))
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": apperr.ClientMessage(nil, lang),
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
