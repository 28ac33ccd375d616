package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/calier/moxie/internal/adapter/otel"
	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/logger"
	"github.com/calier/moxie/internal/port/tracesink"
)

// sinkTimeout bounds fire-and-forget trace emission so a slow sink cannot
// pile goroutines up behind it.
const sinkTimeout = 5 * time.Second

// Request is one orchestration request.
type Request struct {
	Query     string            `json:"query"`
	Context   map[string]string `json:"context,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	VoiceMode bool              `json:"voice_mode,omitempty"`
}

// Response is the answer to one orchestration request, with its full trace.
type Response struct {
	Text  string
	Trace *orchestration.Trace
}

// OrchestratorService composes the pipeline: cache check, routing,
// parallel execution, aggregation, cache store and trace emission.
// Stage failures are absorbed into degraded behavior; the only error a
// caller ever sees is a domain.OrchestratorError.
type OrchestratorService struct {
	router     *RouterService
	executor   *ExecutorService
	aggregator *AggregatorService
	cache      *SemanticCacheService // nil when caching is disabled
	sinks      tracesink.Sink
	cacheCfg   *config.Cache
}

// NewOrchestratorService creates an OrchestratorService. cache may be nil;
// sinks may be an empty Multi.
func NewOrchestratorService(router *RouterService, executor *ExecutorService, aggregator *AggregatorService, cache *SemanticCacheService, sinks tracesink.Sink, cacheCfg *config.Cache) *OrchestratorService {
	if sinks == nil {
		sinks = tracesink.Multi{}
	}
	return &OrchestratorService{
		router:     router,
		executor:   executor,
		aggregator: aggregator,
		cache:      cache,
		sinks:      sinks,
		cacheCfg:   cacheCfg,
	}
}

// Process runs one request through the full pipeline and returns the
// synthesized response with its trace.
func (s *OrchestratorService) Process(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, requestID)
	ctx, span := otel.StartRequestSpan(ctx, requestID, req.SessionID, req.VoiceMode)
	defer span.End()

	log := slog.With("request_id", requestID, "session_id", req.SessionID)
	log.Info("processing query", "voice_mode", req.VoiceMode)

	trace := &orchestration.Trace{
		RequestID: requestID,
		Query:     req.Query,
		SessionID: req.SessionID,
		Timestamp: start,
		VoiceMode: req.VoiceMode,
	}

	if hit := s.checkCache(ctx, req); hit != nil {
		trace.CacheHit = true
		trace.Synthesis = &orchestration.SynthesizedResponse{
			Content:      hit.Response,
			QualityScore: qualityFromMetadata(hit.Metadata),
		}
		trace.TotalLatencyMs = msSince(start)
		s.emit(trace)
		log.Info("cache hit", "similarity", hit.Similarity, "latency_ms", trace.TotalLatencyMs)
		return &Response{Text: hit.Response, Trace: trace}, nil
	}

	sel := s.router.Select(ctx, req.Query)
	trace.SelectedAgents = sel.Agents
	trace.ConfidenceScores = sel.Scores
	trace.Strategy = sel.Strategy

	results := s.executor.RunParallel(ctx, sel.Agents, req.Query, req.Context, 0)
	trace.AgentResults = results

	synthCtx, synthSpan := otel.StartSynthesisSpan(ctx, orchestration.SuccessCount(results))
	synthesis := s.aggregator.Synthesize(synthCtx, req.Query, results, sel.ScoreMap(), req.VoiceMode)
	synthSpan.End()
	trace.Synthesis = synthesis

	s.storeCache(ctx, req, synthesis)

	trace.TotalLatencyMs = msSince(start)
	s.emit(trace)

	if ctx.Err() != nil {
		return nil, domain.NewOrchestratorError(requestID, req.Query, ctx.Err())
	}
	log.Info("query processed",
		"agents", len(sel.Agents),
		"successful", orchestration.SuccessCount(results),
		"quality", synthesis.QualityScore,
		"latency_ms", trace.TotalLatencyMs)
	return &Response{Text: synthesis.Content, Trace: trace}, nil
}

// checkCache consults the semantic cache with the mode-appropriate
// threshold. Returns nil when caching is off or nothing matched.
func (s *OrchestratorService) checkCache(ctx context.Context, req Request) *CacheHit {
	if s.cache == nil {
		return nil
	}
	threshold := s.cacheCfg.Threshold
	if req.VoiceMode {
		threshold = s.cacheCfg.VoiceThreshold
	}
	hit, ok := s.cache.Check(ctx, req.Query, threshold)
	if !ok {
		return nil
	}
	return hit
}

// storeCache saves the synthesis for future requests. The quality floor
// lives inside the cache service.
func (s *OrchestratorService) storeCache(ctx context.Context, req Request, synthesis *orchestration.SynthesizedResponse) {
	if s.cache == nil || len(synthesis.Provenance) == 0 {
		return
	}
	s.cache.Store(ctx, req.Query, synthesis.Content, map[string]string{
		"quality": formatQuality(synthesis.QualityScore),
	}, synthesis.QualityScore)
}

// emit fans the frozen trace out to all sinks without blocking the caller.
func (s *OrchestratorService) emit(trace *orchestration.Trace) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := s.sinks.Emit(ctx, trace); err != nil {
			slog.Warn("trace emission failed", "request_id", trace.RequestID, "error", err)
		}
	}()
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func formatQuality(q float64) string {
	return strconv.FormatFloat(q, 'f', 3, 64)
}

// qualityFromMetadata recovers the quality score stored alongside a cached
// response; unparseable or absent values read as 0.
func qualityFromMetadata(metadata map[string]string) float64 {
	q, err := strconv.ParseFloat(metadata["quality"], 64)
	if err != nil {
		return 0
	}
	return q
}
