package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the process tracer provider.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of root traces sampled, in [0, 1].
	SampleRatio float64
	// Exporters receive finished spans; none means spans are only sampled
	// and propagated.
	Exporters []sdktrace.SpanExporter
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// Init installs a process-wide tracer provider. Calling it again replaces the
// previous provider after shutting it down.
func Init(ctx context.Context, cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "recall"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)),
	)
	if err != nil {
		return err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	}
	for _, exp := range cfg.Exporters {
		opts = append(opts, sdktrace.WithSyncer(exp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	providerMu.Lock()
	prev := provider
	provider = tp
	providerMu.Unlock()

	otel.SetTracerProvider(tp)
	if prev != nil {
		return prev.Shutdown(ctx)
	}
	return nil
}

// Shutdown flushes and shuts down the tracer provider installed by Init.
func Shutdown(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// StartSpan starts a span and ensures trace_id is propagated in the tracing context package.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		sc := span.SpanContext()
		if sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
