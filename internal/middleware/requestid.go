package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	maxRequestIDLen            = 128
)

// RequestID propagates X-Request-ID, minting one when absent or unusable, and
// stores a request-scoped logger tagged with it.
func RequestID(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := r.Header.Get("X-Request-ID")
			if !validRequestID(rid) {
				rid = uuid.NewString()
			}
			logger := base.With().Str("request_id", rid).Logger()
			ctx := context.WithValue(r.Context(), requestIDKey, rid)
			ctx = logger.WithContext(ctx)
			w.Header().Set("X-Request-ID", rid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func validRequestID(rid string) bool {
	if rid == "" || len(rid) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(rid); i++ {
		if c := rid[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
