package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// RequestIDKey is the context key for the ID of one CLI or API request
	RequestIDKey ContextKey = "request_id"
	// CommandKey is the context key for the command being executed
	CommandKey ContextKey = "command"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID   string
	RequestID string
	Command   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewRequestID generates a new request ID
func NewRequestID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithCommand adds the executing command name to the context
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, CommandKey, command)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetCommand retrieves the command name from the context
func GetCommand(ctx context.Context) string {
	if command, ok := ctx.Value(CommandKey).(string); ok {
		return command
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		RequestID: GetRequestID(ctx),
		Command:   GetCommand(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.Command != "" {
		ctx = WithCommand(ctx, tc.Command)
	}
	return ctx
}

// NewRequestContext creates a new context for a request with fresh trace and
// request IDs
func NewRequestContext(ctx context.Context, command string) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	ctx = WithRequestID(ctx, NewRequestID())
	return WithCommand(ctx, command)
}
