package middleware

import (
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/logger"
)

// RequestIDHeader carries the request id in and out of the API.
const RequestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request id, or assigns one, and echoes
// it in the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestIDHeader); id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
		ctx, id := logger.EnsureRequestID(ctx)
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
