package middleware

import (
	"log/slog"
	"net/http"

	"keymint/internal/infrastructure"
	"keymint/internal/ratelimit"
)

// RateLimit throttles requests per caller using the supplied limiter.
// The throttling key is the caller identity when known, else the client IP.
func RateLimit(limiter ratelimit.Limiter, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := ClientKey(r)

			if !limiter.Allow(key) {
				logger.WarnContext(ctx, "rate limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"client_key", key,
				)

				w.Header().Set("Content-Type", "application/problem+json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)

				traceID := infrastructure.GetTraceID(ctx)
				response := `{"type":"/errors/rate-limit-exceeded","title":"Too Many Requests","status":429,"detail":"Rate limit exceeded. Please retry later","trace_id":"` + traceID + `"}`
				w.Write([]byte(response))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
