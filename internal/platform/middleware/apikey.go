package middleware

import (
	"log/slog"
	"net/http"

	"commhub/pkg/requestcontext"
	"commhub/pkg/secrets"
)

// RequireAPIKey gates a route behind a shared ingestion key. Callers present
// the key in X-API-Key; only its bcrypt hash lives in configuration. An empty
// hash disables the gate, which is the development default.
func RequireAPIKey(hash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				unauthorized(w, r, logger, "missing X-API-Key header")
				return
			}
			if err := secrets.Verify(key, hash); err != nil {
				logger.WarnContext(r.Context(), "rejected ingestion key",
					"request_id", requestcontext.RequestID(r.Context()),
				)
				unauthorized(w, r, logger, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
