package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "moxie"

// StartRequestSpan starts a span for one orchestration request.
func StartRequestSpan(ctx context.Context, requestID, sessionID string, voiceMode bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "orchestrate",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("session.id", sessionID),
			attribute.Bool("voice_mode", voiceMode),
		),
	)
}

// StartAgentSpan starts a span for one specialist invocation.
func StartAgentSpan(ctx context.Context, agent, provider string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "specialist",
		trace.WithAttributes(
			attribute.String("specialist.name", agent),
			attribute.String("specialist.provider", provider),
		),
	)
}

// StartSynthesisSpan starts a span for the aggregation/synthesis phase.
func StartSynthesisSpan(ctx context.Context, sources int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "synthesis",
		trace.WithAttributes(
			attribute.Int("synthesis.sources", sources),
		),
	)
}
