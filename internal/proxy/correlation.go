package proxy

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/mkurz/claudex/internal/correlation"
)

// CorrelationID generates (or propagates, if the client already supplied
// one via X-Request-Id or X-Correlation-ID) a correlation id and stores it
// on the request context, so error envelopes, log lines, and the upstream
// request itself can carry it end to end.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = r.Header.Get("X-Correlation-ID")
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := correlation.WithID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func correlationIDFromContext(ctx context.Context) string {
	return correlation.FromContext(ctx)
}
