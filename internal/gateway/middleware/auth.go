package middleware

import (
	"io"
	"net/http"
)

// RequireAuthorization rejects requests whose Authorization header is not
// exactly expected. An empty expected value disables the check. Preflight
// requests pass through so CORS keeps working.
func RequireAuthorization(expected string, next http.Handler) http.Handler {
	if expected == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || r.Header.Get("Authorization") == expected {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Basic")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "authentication failure")
	})
}
