package common

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware enforces a bearer API key when one is configured. OPTIONS
// requests and loopback /model reads stay open so probes and CORS preflight
// keep working.
func AuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if r.URL.Path == "/model" && IsLoopback(r) {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				WriteProblem(w, r, http.StatusUnauthorized, ProblemUnauthorized,
					"Unauthorized", "Missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
