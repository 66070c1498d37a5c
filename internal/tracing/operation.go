package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/beanserver/internal/faults"
)

// Start opens an internal span named SpanPrefix+op, tagged with the object
// name carried by ctx. A nil tracer yields a no-op span.
func Start(ctx context.Context, tracer trace.Tracer, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Noop()
	}
	if name := ObjectNameFromContext(ctx); name != "" {
		attrs = append(attrs, attribute.String(AttrObjectName, name))
	}
	return tracer.Start(ctx, SpanPrefix+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// End records err on span, tagging the fault kind and origin when err
// carries a fault, and ends the span.
func End(span trace.Span, err error) {
	defer span.End()

	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}

	if f, ok := faults.As(err); ok {
		span.SetAttributes(
			attribute.String(AttrFaultKind, string(f.Kind)),
			attribute.String(AttrFaultOrigin, string(f.Origin)),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
