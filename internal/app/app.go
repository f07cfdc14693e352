package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mkurz/claudex/internal/mapping"
	"github.com/mkurz/claudex/internal/modelmap"
	"github.com/mkurz/claudex/internal/proxy"
	"github.com/mkurz/claudex/internal/tokensource"
	"github.com/mkurz/claudex/internal/tokenstore"
	"github.com/mkurz/claudex/internal/transport"
)

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg   *Config
	proxy *proxy.Proxy
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	resolver, err := modelmap.NewResolver(cfg.Upstream.ModelMapJSON, cfg.Upstream.DefaultModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model map: %w", err)
	}

	transportCfg, err := newTransportConfig(&cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("failed to configure upstream transport: %w", err)
	}

	proxyServer, err := proxy.New(proxy.Deps{
		RequestMapper:  mapping.NewRequestMapper(resolver),
		ResponseMapper: mapping.NewResponseMapper(),
		Transport:      transport.New(transportCfg),
		LogPayloads:    cfg.Observability.LogPayloads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:   cfg,
		proxy: proxyServer,
	}, nil
}

// newTransportConfig builds the C2 transport configuration for either the
// direct or oauth upstream mode. In direct mode the static API key is read
// once, synchronously, at startup (unlike the oauth credential, it never
// refreshes). In oauth mode, credential I/O is deferred to the transport's
// first request via tokensource.CodexTokenSource.
func newTransportConfig(cfg *UpstreamConfig) (transport.Config, error) {
	switch cfg.Mode {
	case UpstreamModeDirect:
		store, err := cfg.Auth.NewTokenStore()
		if err != nil {
			return transport.Config{}, fmt.Errorf("failed to create token store: %w", err)
		}
		apiKey, err := store.Read(context.Background())
		if err != nil {
			return transport.Config{}, fmt.Errorf("failed to read API key: %w", err)
		}
		return transport.Config{
			Mode:                transport.ModeDirect,
			APIKey:              apiKey,
			BaseURL:             cfg.BaseURL,
			DefaultInstructions: cfg.DefaultInstructions,
			RequestTimeout:      cfg.RequestTimeout,
		}, nil

	case UpstreamModeOAuth:
		if err := tokensource.ValidateRefreshTokenURL(cfg.Codex.RefreshURL); err != nil {
			return transport.Config{}, fmt.Errorf("invalid codex refresh url: %w", err)
		}
		store, err := tokenstore.NewCodexCredentialStore(cfg.Codex.CredentialPath)
		if err != nil {
			return transport.Config{}, fmt.Errorf("failed to open codex credential store: %w", err)
		}
		return transport.Config{
			Mode:                transport.ModeOAuth,
			OAuthBaseURL:        cfg.Codex.BaseURL,
			DefaultInstructions: cfg.DefaultInstructions,
			Credentials:         tokensource.NewCodexTokenSource(store, cfg.Codex.RefreshURL),
			RequestTimeout:      cfg.RequestTimeout,
		}, nil

	default:
		return transport.Config{}, fmt.Errorf("unsupported upstream mode: %s", cfg.Mode)
	}
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server", "address", address)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
