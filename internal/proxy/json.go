package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mkurz/claudex/internal/anthropicerr"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeAnthropicError writes err in Anthropic's error envelope shape,
// converting arbitrary errors to an api_error/transport anthropicerr.Error
// first if needed.
func writeAnthropicError(ctx context.Context, w http.ResponseWriter, err error) {
	aerr := toAnthropicError(err)
	if id := correlationIDFromContext(ctx); id != "" {
		anthropicerr.WithRequestID(id)(aerr)
	}
	if writeErr := aerr.WriteJSON(w); writeErr != nil {
		slog.ErrorContext(ctx, "failed to encode error response", "error", writeErr)
	}
}

func toAnthropicError(err error) *anthropicerr.Error {
	if aerr, ok := err.(*anthropicerr.Error); ok {
		return aerr
	}
	return anthropicerr.New(anthropicerr.KindTransport, err.Error())
}
