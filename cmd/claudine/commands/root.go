package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mkurz/claudex/internal/app"
	"github.com/mkurz/claudex/internal/observability"
	"github.com/urfave/cli/v3"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "claudine",
		Usage: "Anthropic Messages API proxy for OpenAI-compatible and Codex backends",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			proxyStartCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func proxyStartCommand() *cli.Command {
	return &cli.Command{
		Name: "start",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: int(app.DefaultConfigServerPort),
			},
			&cli.StringFlag{
				Name:  "upstream--mode",
				Usage: "upstream backend mode (direct|oauth)",
				Value: string(app.DefaultConfigUpstreamMode),
			},
			&cli.StringFlag{
				Name:  "upstream--base-url",
				Usage: "upstream API base URL (direct mode)",
				Value: app.DefaultConfigDirectBaseURL,
			},
			&cli.StringFlag{
				Name:  "upstream--default-model",
				Usage: "model name used when a request's mapped model cannot be resolved",
				Value: app.DefaultConfigDefaultModel,
			},
			&cli.StringFlag{
				Name:  "upstream--model-map-json",
				Usage: "JSON document mapping Anthropic model aliases to upstream model names",
			},
			&cli.StringFlag{
				Name:  "upstream--auth--storage",
				Usage: "direct-mode API key storage backend (file|env|keyring)",
				Value: string(app.DefaultConfigAuthStorage),
			},
			&cli.StringFlag{
				Name:  "upstream--auth--file",
				Usage: "direct-mode API key file path (file storage)",
			},
			&cli.StringFlag{
				Name:  "upstream--auth--env-key",
				Usage: "direct-mode API key environment variable name (env storage)",
			},
			&cli.StringFlag{
				Name:  "upstream--auth--keyring-user",
				Usage: "direct-mode API key keyring user (keyring storage)",
			},
			&cli.StringFlag{
				Name:  "upstream--codex--base-url",
				Usage: "Codex backend base URL (oauth mode)",
				Value: app.DefaultConfigCodexBaseURL,
			},
			&cli.StringFlag{
				Name:  "upstream--codex--credential-path",
				Usage: "path to Codex OAuth credential file (oauth mode)",
			},
			&cli.StringFlag{
				Name:  "upstream--codex--refresh-url",
				Usage: "Codex OAuth token refresh endpoint (oauth mode)",
				Value: app.DefaultConfigCodexRefreshURL,
			},
		},
		Action: proxyStartAction,
	}
}

func proxyStartAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdownObservability, err := observability.Instrument(ctx, observability.Config{
		LogLevel:     cfg.LogLevel,
		LogFormat:    string(cfg.LogFormat),
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
		OTLPProtocol: cfg.Observability.OTLPProtocol,
		LogPayloads:  cfg.Observability.LogPayloads,
	})
	if err != nil {
		return fmt.Errorf("failed to set up observability layer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
		defer cancel()
		if err := shutdownObservability(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "failed to shut down observability layer", "error", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed to start: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}
