package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Standard attribute keys for daemon spans.
var (
	AttrAgentID      = attribute.Key("squads.agent.id")
	AttrTaskID       = attribute.Key("squads.task.id")
	AttrSessionID    = attribute.Key("squads.session.id")
	AttrBackendID    = attribute.Key("squads.backend.id")
	AttrStreamID     = attribute.Key("squads.stream.id")
	AttrCadenceName  = attribute.Key("squads.cadence.name")
	AttrIntegration  = attribute.Key("squads.integration.id")
	AttrFeedbackGoal = attribute.Key("squads.feedback.event.id")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan starts a span for an inbound request (gateway, push).
func StartServerSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// StartClientSpan starts a span for an outbound call (backend subprocess, integration adapter).
func StartClientSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
