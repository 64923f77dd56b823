// Package middleware provides HTTP middleware for the chat API.
package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization"
)

// CORS returns middleware that handles CORS headers.
//
// Allowed origins may be exact ("https://app.example.com"), "*", or a
// pattern with a single wildcard label ("https://*.vercel.app").
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				if allowed, explicit := matchOrigin(allowedOrigins, origin); allowed {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsAllowMethods)
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Add("Vary", "Origin")
					// Credentials only for explicit origins, never for "*" or pattern matches.
					if explicit {
						h.Set("Access-Control-Allow-Credentials", "true")
					}
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchOrigin reports whether origin is allowed and whether it matched an
// exact entry.
func matchOrigin(allowedOrigins []string, origin string) (allowed, explicit bool) {
	for _, o := range allowedOrigins {
		switch {
		case o == origin:
			return true, true
		case o == "*":
			allowed = true
		case strings.Contains(o, "*") && matchWildcard(o, origin):
			allowed = true
		}
	}
	return allowed, false
}

// matchWildcard matches "scheme://*.domain" against an origin. The wildcard
// covers exactly one non-empty DNS label.
func matchWildcard(pattern, origin string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok || strings.Contains(suffix, "*") {
		return false
	}
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	if len(origin) < len(prefix)+len(suffix) {
		return false
	}
	label := origin[len(prefix) : len(origin)-len(suffix)]
	return label != "" && !strings.ContainsAny(label, "./:")
}
