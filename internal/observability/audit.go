// Package observability records an audit trail of memory mutations and
// exports finished spans to the structured log.
package observability

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/recall/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event types.
const (
	EventMemory = "memory"
	EventConfig = "config"
)

// AuditEvent represents a structured event for the audit log
type AuditEvent struct {
	Type      string         `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Action    string         `json:"action"` // e.g. "put", "delete", "promote", "reload"
	Key       string         `json:"key,omitempty"`
	Layers    []string       `json:"layers,omitempty"`
	Status    string         `json:"status"` // "success", "failure"
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines. A nil *AuditLogger
// discards events.
type AuditLogger struct {
	logger zerolog.Logger
	mu     sync.Mutex
	closer io.Closer
}

// NewAuditLogger writes audit events to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
}

// OpenAuditLog appends audit events to the file at path.
func OpenAuditLog(path string) (*AuditLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	a := NewAuditLogger(file)
	a.closer = file
	return a, nil
}

// Record emits an audit event to the log and, when ctx carries a recording
// span, as a span event.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	tc := tracing.FromContext(ctx)
	event.TraceID = tc.TraceID
	event.RequestID = tc.RequestID

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		if event.TraceID == "" {
			event.TraceID = span.SpanContext().TraceID().String()
		}
		span.AddEvent("audit."+event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.key", event.Key),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("event_time", event.Timestamp).
		Str("type", event.Type).
		Str("action", event.Action).
		Str("status", event.Status)

	if event.Key != "" {
		entry.Str("key", event.Key)
	}
	if len(event.Layers) > 0 {
		entry.Strs("layers", event.Layers)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.RequestID != "" {
		entry.Str("request_id", event.RequestID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}

	entry.Msg("")
}

// Close closes the audit log file, if any.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer != nil {
		err := a.closer.Close()
		a.closer = nil
		return err
	}
	return nil
}

// RecordMutation records a write-side memory operation.
func (a *AuditLogger) RecordMutation(ctx context.Context, action, key string, layers []string, ok bool) {
	a.Record(ctx, AuditEvent{
		Type:   EventMemory,
		Action: action,
		Key:    key,
		Layers: layers,
		Status: status(ok),
	})
}

// RecordConfigReload records an attempted configuration reload.
func (a *AuditLogger) RecordConfigReload(ctx context.Context, path string, err error) {
	event := AuditEvent{
		Type:     EventConfig,
		Action:   "reload",
		Status:   status(err == nil),
		Metadata: map[string]any{"path": path},
	}
	if err != nil {
		event.Metadata["error"] = err.Error()
	}
	a.Record(ctx, event)
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
