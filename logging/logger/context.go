package logger

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

type traceIDKey struct{}

var traceKey = "trace_id"

// getTraceID gets a trace ID from the context. An explicit id set with
// SetTraceID wins over an OpenTelemetry span context.
func getTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetTraceID returns the trace id carried by ctx, if any.
func GetTraceID(ctx context.Context) string {
	return getTraceID(ctx)
}

// SetTraceID sets a trace ID to the context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if id := getTraceID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return SetTraceID(ctx, id), id
}
