package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"keymint/internal/infrastructure"
)

// userIDKey is the context key for the caller's user ID
type userIDKey struct{}

// UserIDHeader carries the caller's stable user identifier.
const UserIDHeader = "X-User-ID"

// Identity extracts the caller identity from the X-User-ID header and stores
// it in the request context. Requests without the header still pass through;
// handlers that need an identity use RequireUser or read the request body.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID != "" {
			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// UserID returns the caller identity stored by Identity, or "" when absent.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}
	return ""
}

// RequireUser rejects requests that carry no X-User-ID header.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)

			traceID := infrastructure.GetTraceID(r.Context())
			response := `{"type":"/errors/missing-user-id","title":"Bad Request","status":400,"detail":"The X-User-ID header is required","trace_id":"` + traceID + `"}`
			w.Write([]byte(response))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientKey returns a stable throttling key for the request: the caller
// identity when known, otherwise the client IP.
func ClientKey(r *http.Request) string {
	if id := UserID(r.Context()); id != "" {
		return id
	}
	return GetRealIP(r)
}

// GetRealIP returns the client address without the port.
func GetRealIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
