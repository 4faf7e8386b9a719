package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToCycle derives a context for a rebuild cycle triggered by an
// event. The trace ID of the triggering event is kept; a fresh cycle ID is
// generated so every full recomputation can be told apart in the logs.
func PropagateToCycle(ctx context.Context) context.Context {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = NewTraceID()
	}

	newCtx := WithTraceID(ctx, traceID)
	return WithCycleID(newCtx, NewCycleID())
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		logger = logger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.CycleID != "" {
		logger = logger.With().Str("cycle_id", tc.CycleID).Logger()
	}
	if tc.EventOp != "" {
		logger = logger.With().Str("event_op", tc.EventOp).Logger()
	}
	if tc.FilePath != "" {
		logger = logger.With().Str("file_path", tc.FilePath).Logger()
	}

	return logger
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
