package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type intentKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithIntent attaches the intent being dispatched to the context.
func WithIntent(ctx context.Context, intent string) context.Context {
	return context.WithValue(ctx, intentKey{}, intent)
}

// Intent extracts the intent from context. Returns "" if absent.
func Intent(ctx context.Context) string {
	if v, ok := ctx.Value(intentKey{}).(string); ok {
		return v
	}
	return ""
}
