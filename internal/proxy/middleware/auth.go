// Package middleware holds the chi middleware for the proxy surface.
package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/pysugar/copilot-nexus/internal/db"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// APIKeyFromContext returns the validated key for the request, or "".
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey).(string)
	return key
}

// APIKeyAuth validates client keys presented as a bearer token or the
// x-api-key header. A key that is presented but unknown is rejected with
// 401; a request with no key at all passes through, so deployments that
// issue no keys stay open.
func APIKeyAuth(store *db.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			record, err := store.FindAPIKey(key)
			if err != nil {
				log.Printf("[auth] api key lookup failed: %v", err)
				http.Error(w, `{"error":{"message":"internal error","type":"api_error"}}`, http.StatusInternalServerError)
				return
			}
			if record == nil {
				http.Error(w, `{"error":{"message":"invalid api key","type":"authentication_error"}}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}
	return r.Header.Get("x-api-key")
}
