package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumentation wraps outbound collaborator calls in a client span and
// records their duration and failures. The zero value is usable and records
// nothing.
type Instrumentation struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewInstrumentation builds instrumentation from an initialized provider.
func NewInstrumentation(p *Provider, m *Metrics) Instrumentation {
	if p == nil {
		p = Noop()
	}
	return Instrumentation{Tracer: p.Tracer, Metrics: m}
}

// Call runs fn under a span named "<collaborator>.<op>".
func (in Instrumentation) Call(ctx context.Context, collaborator, op string, fn func(ctx context.Context) error) error {
	if in.Tracer == nil {
		return fn(ctx)
	}
	ctx, span := StartClientSpan(ctx, in.Tracer, collaborator+"."+op,
		AttrCollaborator.String(collaborator),
		AttrOperation.String(op),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	attrs := metric.WithAttributes(AttrCollaborator.String(collaborator), AttrOperation.String(op))
	if in.Metrics != nil {
		in.Metrics.CollaboratorDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if in.Metrics != nil {
			in.Metrics.CollaboratorErrors.Add(ctx, 1, attrs)
		}
	}
	return err
}
