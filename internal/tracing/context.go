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
	// CycleIDKey is the context key for rebuild cycle ID
	CycleIDKey ContextKey = "cycle_id"
	// EventOpKey is the context key for the filesystem event operation
	EventOpKey ContextKey = "event_op"
	// FilePathKey is the context key for the file path being processed
	FilePathKey ContextKey = "file_path"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID  string
	CycleID  string
	EventOp  string
	FilePath string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewCycleID generates a new rebuild cycle ID
func NewCycleID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithCycleID adds a rebuild cycle ID to the context
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, CycleIDKey, cycleID)
}

// WithEventOp adds the filesystem event operation to the context
func WithEventOp(ctx context.Context, op string) context.Context {
	return context.WithValue(ctx, EventOpKey, op)
}

// WithFilePath adds the file path being processed to the context
func WithFilePath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, FilePathKey, path)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// GetCycleID retrieves the rebuild cycle ID from the context
func GetCycleID(ctx context.Context) string {
	return stringValue(ctx, CycleIDKey)
}

// GetEventOp retrieves the filesystem event operation from the context
func GetEventOp(ctx context.Context) string {
	return stringValue(ctx, EventOpKey)
}

// GetFilePath retrieves the file path from the context
func GetFilePath(ctx context.Context) string {
	return stringValue(ctx, FilePathKey)
}

// FromContext extracts the full trace context
func FromContext(ctx context.Context) TraceContext {
	return TraceContext{
		TraceID:  GetTraceID(ctx),
		CycleID:  GetCycleID(ctx),
		EventOp:  GetEventOp(ctx),
		FilePath: GetFilePath(ctx),
	}
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
