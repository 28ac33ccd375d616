package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/calier/moxie/internal/domain/orchestration"
)

// Metrics implements the tracesink port by turning each finished trace into
// pipeline metrics: request counts, cache hits, per-agent failures and
// end-to-end latency.
type Metrics struct {
	requests      metric.Int64Counter
	cacheHits     metric.Int64Counter
	agentFailures metric.Int64Counter
	latency       metric.Float64Histogram
}

// NewMetrics registers the pipeline instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(tracerName)

	requests, err := meter.Int64Counter("moxie.requests",
		metric.WithDescription("Orchestration requests processed"))
	if err != nil {
		return nil, fmt.Errorf("requests counter: %w", err)
	}
	cacheHits, err := meter.Int64Counter("moxie.cache.hits",
		metric.WithDescription("Semantic cache hits"))
	if err != nil {
		return nil, fmt.Errorf("cache hits counter: %w", err)
	}
	agentFailures, err := meter.Int64Counter("moxie.agent.failures",
		metric.WithDescription("Specialist invocations that errored or timed out"))
	if err != nil {
		return nil, fmt.Errorf("agent failures counter: %w", err)
	}
	latency, err := meter.Float64Histogram("moxie.request.latency",
		metric.WithDescription("End-to-end request latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("latency histogram: %w", err)
	}

	return &Metrics{
		requests:      requests,
		cacheHits:     cacheHits,
		agentFailures: agentFailures,
		latency:       latency,
	}, nil
}

// Emit records metrics for one finished request. Implements tracesink.Sink.
func (m *Metrics) Emit(ctx context.Context, trace *orchestration.Trace) error {
	voiceAttr := metric.WithAttributes(attribute.Bool("voice_mode", trace.VoiceMode))

	m.requests.Add(ctx, 1, voiceAttr)
	m.latency.Record(ctx, trace.TotalLatencyMs, voiceAttr)

	if trace.CacheHit {
		m.cacheHits.Add(ctx, 1)
	}
	for i := range trace.AgentResults {
		r := &trace.AgentResults[i]
		if !r.Succeeded() {
			m.agentFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("agent", r.Agent),
				attribute.String("status", string(r.Status)),
			))
		}
	}
	return nil
}
