package proxy

import (
	"log/slog"
	"net/http"
)

// TelemetryHandler serves POST /api/event_logging/batch, the Anthropic
// client's background telemetry batch endpoint: clients post usage/
// tool-spike events here unconditionally, and without a handler every
// session logs noisy 404s. Each batch's arrival and content length are
// logged at debug level and the batch is acknowledged; its body is not
// read, forwarded or persisted.
type TelemetryHandler struct{}

var _ http.Handler = (*TelemetryHandler)(nil)

func (h TelemetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.DebugContext(r.Context(), "received client telemetry batch", "content_length", r.ContentLength)
	w.WriteHeader(http.StatusNoContent)
}
