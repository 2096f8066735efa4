package migration

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/schemachain/scripts"
	"github.com/GoCodeAlone/schemachain/version"
)

// Tracer creates spans around runs, phases and items.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer. If tracer is nil, the global tracer provider
// is used.
func NewTracer(tracer trace.Tracer) *Tracer {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("schemachain")
	}
	return &Tracer{tracer: tracer}
}

// StartRun begins the root span of a run.
func (t *Tracer) StartRun(ctx context.Context, runID string, entries, phases int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "schemachain.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("schemachain.run_id", runID),
			attribute.Int("schemachain.entries", entries),
			attribute.Int("schemachain.phases", phases),
		),
	)
}

// StartPhase begins a child span for one phase.
func (t *Tracer) StartPhase(ctx context.Context, phase scripts.Phase) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "schemachain.phase",
		trace.WithAttributes(attribute.String("schemachain.phase", phase.String())),
	)
}

// StartItem begins a child span for the script chain of one item.
func (t *Tracer) StartItem(ctx context.Context, item string, phase scripts.Phase, from *version.Version, final version.Version) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "schemachain.item",
		trace.WithAttributes(
			attribute.String("schemachain.item", item),
			attribute.String("schemachain.phase", phase.String()),
			attribute.String("schemachain.from", version.Format(from)),
			attribute.String("schemachain.final", final.String()),
		),
	)
}

// RecordError records an error on the given span and sets the span status.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks a span as successful.
func (t *Tracer) SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
