package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for assistant spans and metrics.
var (
	AttrIntent       = attribute.Key("asis.intent")
	AttrPayloadMode  = attribute.Key("asis.payload.mode")
	AttrErrorKind    = attribute.Key("asis.error.kind")
	AttrEventID      = attribute.Key("asis.event.id")
	AttrJobID        = attribute.Key("asis.job.id")
	AttrCollaborator = attribute.Key("asis.collaborator")
	AttrOperation    = attribute.Key("asis.collaborator.operation")
	AttrRole         = attribute.Key("asis.reminder.role")
)

// StartSpan starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (gateway).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (calendar, SMTP, IMAP, search).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
