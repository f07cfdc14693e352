// Package correlation carries a per-request correlation id through
// context.Context so it can be attached to log lines, error envelopes,
// and the outgoing upstream request alike, without internal/transport
// depending on internal/proxy (which itself depends on internal/transport)
// for the context key.
package correlation

import "context"

type idKey struct{}

// WithID returns a context carrying id as the active correlation id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey{}, id)
}

// FromContext returns the correlation id stored on ctx, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}
