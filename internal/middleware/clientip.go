package middleware

import (
	"net"
	"net/http"
	"strings"
)

// LoopbackKey is used when no client address can be determined.
const LoopbackKey = "127.0.0.1"

// ClientKey derives the rate-limit key of a request. Forwarding headers are
// only honoured when the operator trusts the proxy chain.
func ClientKey(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first := xff
			if idx := strings.Index(xff, ","); idx >= 0 {
				first = xff[:idx]
			}
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return LoopbackKey
}
