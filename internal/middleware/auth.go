package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"llmgate/internal/config"
)

// NewAuthMiddleware enforces the gateway API key when one is configured.
// Clients present it as a Bearer token or in X-API-Key, so SDKs for both
// supported protocols work unmodified. Health checks stay open, and a
// config reload can change the key without a restart.
func NewAuthMiddleware(cfg *config.Manager, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.Get().APIKey
			if key == "" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			if presentedKey(r) != key {
				logger.Warn("rejected unauthenticated request",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, "invalid gateway API key", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// presentedKey extracts the gateway key from either accepted header.
func presentedKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	return r.Header.Get("X-API-Key")
}
