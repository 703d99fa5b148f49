package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID == "" && tc.RequestID == "" && tc.Command == "" {
		return logger
	}
	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}
	if tc.Command != "" {
		lc = lc.Str("command", tc.Command)
	}
	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// Detach returns a context for background work started on behalf of ctx. It
// keeps ctx's values (trace IDs and the active span) but is never cancelled
// and has no deadline. A trace ID is added when ctx had none.
func Detach(ctx context.Context) context.Context {
	detached := context.WithoutCancel(ctx)
	if GetTraceID(detached) == "" {
		detached = WithTraceID(detached, NewTraceID())
	}
	return detached
}
