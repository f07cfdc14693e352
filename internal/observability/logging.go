// Package observability wires structured logging for the proxy: a
// console handler (text or JSON, per config) fanned out to an
// OpenTelemetry log bridge, plus the payload redaction helpers in
// redaction.go that keep tool arguments and message text out of logs
// unless explicitly enabled.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName identifies this process to the OTel log pipeline.
const ServiceName = "claudex"

// Config configures the observability layer. When LogPayloads is false
// (the default), logged request and response bodies are fully redacted.
type Config struct {
	LogLevel  slog.Level
	LogFormat string // "text" | "json"

	// OTLPEndpoint, if set, ships logs via OTLP (grpc unless OTLPProtocol
	// is "http/protobuf"). Empty means logs are mirrored to stdout only.
	OTLPEndpoint string
	OTLPProtocol string // "grpc" (default) | "http/protobuf"

	LogPayloads bool
}

// Instrument builds the slog default logger (console + OTel bridge) and
// returns a shutdown function that flushes and closes the OTel exporter.
func Instrument(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observability: building log exporter: %w", err)
	}

	var sevVar minsev.SeverityVar
	sevVar.Set(minsev.Severity(severityFor(cfg.LogLevel)))
	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), &sevVar)
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))

	otelHandler := otelslog.NewLogger(ServiceName, otelslog.WithLoggerProvider(provider)).Handler()
	consoleHandler := newConsoleHandler(cfg.LogFormat, cfg.LogLevel)

	slog.SetDefault(slog.New(fanoutHandler{handlers: []slog.Handler{consoleHandler, otelHandler}}))

	return provider.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (sdklog.Exporter, error) {
	if cfg.OTLPEndpoint == "" {
		return stdoutlog.New(stdoutlog.WithoutTimestamps())
	}

	if cfg.OTLPProtocol == "http/protobuf" {
		return otlploghttp.New(ctx,
			otlploghttp.WithEndpoint(cfg.OTLPEndpoint),
			otlploghttp.WithInsecure(),
		)
	}
	return otlploggrpc.New(ctx,
		otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlploggrpc.WithInsecure(),
	)
}

// severityFor maps an slog level to the OTel severity minsev gates on.
func severityFor(level slog.Level) otellog.Severity {
	switch {
	case level <= slog.LevelDebug:
		return otellog.SeverityDebug
	case level <= slog.LevelInfo:
		return otellog.SeverityInfo
	case level <= slog.LevelWarn:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityError
	}
}

func newConsoleHandler(format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

// fanoutHandler forwards every record to each wrapped handler whose
// Enabled check passes, splitting one log line across console + OTel
// export.
type fanoutHandler struct {
	handlers []slog.Handler
}

var _ slog.Handler = fanoutHandler{}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}
