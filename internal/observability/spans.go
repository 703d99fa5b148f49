package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanLogExporter writes finished spans to a zerolog logger at debug level.
type SpanLogExporter struct {
	mu       sync.Mutex
	logger   zerolog.Logger
	shutdown bool
}

var _ sdktrace.SpanExporter = (*SpanLogExporter)(nil)

// NewSpanLogExporter creates an exporter logging through logger.
func NewSpanLogExporter(logger zerolog.Logger) *SpanLogExporter {
	return &SpanLogExporter{
		logger: logger.With().Str("component", "tracing").Logger(),
	}
}

// ExportSpans logs each span with its timing, status and attributes.
func (e *SpanLogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		return nil
	}

	for _, s := range spans {
		entry := e.logger.Debug().
			Str("span", s.Name()).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Str("span_id", s.SpanContext().SpanID().String()).
			Dur("duration", s.EndTime().Sub(s.StartTime()))

		if s.Parent().IsValid() {
			entry = entry.Str("parent_span_id", s.Parent().SpanID().String())
		}
		if s.Status().Code == codes.Error {
			entry = entry.Str("error", s.Status().Description)
		}

		attrs := zerolog.Dict()
		for _, kv := range s.Attributes() {
			attrs = attrs.Str(string(kv.Key), kv.Value.Emit())
		}
		entry.Dict("attributes", attrs).Msg("Span finished")
	}
	return ctx.Err()
}

// Shutdown stops the exporter; later exports are dropped.
func (e *SpanLogExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shutdown = true
	return ctx.Err()
}
