package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mkurz/claudex/internal/mapping"
)

// Proxy is the north-facing Anthropic Messages API server.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// Deps bundles the components New wires into the Anthropic-facing
// handlers: the request/response mappers (C1/C4) and the upstream
// transport (C2).
type Deps struct {
	RequestMapper  *mapping.RequestMapper
	ResponseMapper *mapping.ResponseMapper
	Transport      Sender

	// LogPayloads enables redacted request/response payload logging.
	LogPayloads bool
}

// New builds the Anthropic-facing proxy server from deps.
func New(deps Deps) (*Proxy, error) {
	if deps.RequestMapper == nil || deps.ResponseMapper == nil || deps.Transport == nil {
		return nil, fmt.Errorf("proxy: RequestMapper, ResponseMapper and Transport are required")
	}

	messagesHandler := &MessagesHandler{
		RequestMapper:  deps.RequestMapper,
		ResponseMapper: deps.ResponseMapper,
		Transport:      deps.Transport,
		LogPayloads:    deps.LogPayloads,
	}
	streamHandler := &MessagesHandler{
		RequestMapper:  deps.RequestMapper,
		ResponseMapper: deps.ResponseMapper,
		Transport:      deps.Transport,
		ForceStream:    true,
		LogPayloads:    deps.LogPayloads,
	}
	countTokensHandler := &CountTokensHandler{RequestMapper: deps.RequestMapper}

	logger := slog.Default()
	chain := func(h http.Handler) http.Handler {
		return applyMiddlewares(h, CorrelationID, Logging(logger), Recovery)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/messages", chain(messagesHandler))
	mux.Handle("POST /v1/messages/stream", chain(streamHandler))
	mux.Handle("POST /v1/messages/count_tokens", chain(countTokensHandler))
	mux.Handle("POST /v1/messages/token_count", chain(countTokensHandler))
	mux.Handle("POST /api/event_logging/batch", chain(TelemetryHandler{}))

	return &Proxy{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	p.server = &http.Server{
		Handler:      p,
		ReadTimeout:  30 * time.Second, // Inbound: read entire client request (slow-client protection)
		WriteTimeout: 15 * time.Minute, // Inbound: bounded but long enough for SSE streams
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		err := p.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	if err := p.server.Shutdown(ctx); err != nil {
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
