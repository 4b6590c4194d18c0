// ABOUTME: Bearer token authentication middleware for /api routes.
// ABOUTME: Health checks pass through unprotected.
package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware rejects /api requests whose Authorization header is not
// "Bearer <token>". An empty token disables the check.
func AuthMiddleware(token string) func(http.Handler) http.Handler {
	expected := "Bearer " + token
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if token == "" || !(strings.HasPrefix(path, "/api/") || path == "/api") {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("WWW-Authenticate", `Bearer realm="viewclone"`)
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		})
	}
}
