package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanPropagatesTraceID(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	if err := Init(context.Background(), Config{SampleRatio: 1, Exporters: []sdktrace.SpanExporter{exp}}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "recall.test", "test.op", attribute.String("k", "v"))
	if GetTraceID(ctx) == "" {
		t.Error("StartSpan did not propagate a trace ID")
	}
	if GetTraceID(ctx) != span.SpanContext().TraceID().String() {
		t.Error("Trace ID does not match the span")
	}
	EndSpan(span, errors.New("boom"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "test.op" {
		t.Errorf("Expected span test.op, got %s", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status.Code)
	}
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing")
	ctx, span := StartSpan(ctx, "recall.test", "test.op")
	defer EndSpan(span, nil)

	if GetTraceID(ctx) != "existing" {
		t.Errorf("Expected existing trace ID, got %s", GetTraceID(ctx))
	}
}

func TestShutdownWithoutInit(t *testing.T) {
	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown without Init returned %v", err)
	}
}
