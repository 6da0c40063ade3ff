package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// maxTraceIDLength bounds client-supplied ids before they reach logs and headers.
const maxTraceIDLength = 128

// TraceMiddleware ensures each request has a trace identifier propagated via
// context and headers. X-Request-ID is accepted from proxies that set it.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = r.Header.Get("X-Request-ID")
		}
		if traceID == "" || len(traceID) > maxTraceIDLength {
			traceID = uuid.NewString()
		}
		ctx := contextWithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
