// Package observability wires OpenTelemetry trace export into the genkit
// runtime. Spans from embedding and generation calls flow through genkit's
// TracerProvider; this package attaches an OTLP HTTP exporter to it.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/passagedev/passage/internal/config"
)

// DefaultEndpoint is the conventional local OTLP HTTP collector address.
const DefaultEndpoint = "localhost:4318"

// Setup attaches an OTLP exporter for the configured collector and returns
// a shutdown function that flushes pending spans. A disabled config or a
// failed exporter yields a no-op shutdown; tracing problems never take the
// process down.
func Setup(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads these at span creation time.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	// Application spans (outside genkit's own instrumentation) go through
	// the global provider, so they land on the same exporter.
	otel.SetTracerProvider(tracing.TracerProvider())

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)
	return tracing.TracerProvider().Shutdown, nil
}
