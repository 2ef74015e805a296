package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for covenant spans.
var (
	AttrActor           = attribute.Key("covenant.actor")
	AttrScope           = attribute.Key("covenant.scope")
	AttrActionType      = attribute.Key("covenant.action.type")
	AttrDecision        = attribute.Key("covenant.decision")
	AttrCovenantVersion = attribute.Key("covenant.version")
	AttrEventID         = attribute.Key("covenant.event.id")
	AttrPatternCount    = attribute.Key("covenant.pattern.count")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}
