package cmd

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// initTracerProvider installs the global tracer provider. At verbose level 2
// and above every ended span is written to the log; below that spans are
// sampled but never exported.
func initTracerProvider(level int, logger *slog.Logger) (*sdktrace.TracerProvider, func()) {
	var opts []sdktrace.TracerProviderOption
	if level >= 2 {
		opts = append(opts, sdktrace.WithSyncer(&logExporter{log: logger}))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup
}

// logExporter writes finished spans as debug log records.
type logExporter struct {
	log *slog.Logger
}

func (e *logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		args := []any{
			"span", span.Name(),
			"duration", span.EndTime().Sub(span.StartTime()),
			"status", span.Status().Code.String(),
		}
		for _, kv := range span.Attributes() {
			args = append(args, string(kv.Key), kv.Value.Emit())
		}
		e.log.DebugContext(ctx, "Span ended", args...)
	}
	return nil
}

func (e *logExporter) Shutdown(ctx context.Context) error { return nil }
