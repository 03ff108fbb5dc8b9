package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"quentry-gateway/pkg/requestcontext"
)

// RequestID assigns a correlation id to every request and captures caller
// metadata the audit pipeline wants. Inbound X-Request-Id values are honored
// so correlation survives an upstream load balancer.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		ctx = requestcontext.WithUserAgent(ctx, r.UserAgent())
		ctx = requestcontext.WithClientIP(ctx, r.RemoteAddr)

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
