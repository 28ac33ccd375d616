package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/calier/moxie/internal/adapter/otel"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/logger"
)

// Chunk kinds on the streaming path.
const (
	ChunkPartial = "partial"
	ChunkFinal   = "final"
)

// Chunk is one streamed unit: a specialist's answer as it completes, or
// the final synthesized response. Exactly one final chunk closes every
// stream.
type Chunk struct {
	Type       string                             `json:"type"`
	RequestID  string                             `json:"request_id"`
	Source     string                             `json:"source,omitempty"`
	Confidence float64                            `json:"confidence,omitempty"`
	Content    string                             `json:"content"`
	Synthesis  *orchestration.SynthesizedResponse `json:"synthesis,omitempty"`
	CacheHit   bool                               `json:"cache_hit,omitempty"`
}

// ProcessStream runs one request and streams specialist answers in
// completion order, followed by a single final chunk with the synthesis.
// The returned channel is closed after the final chunk. Cancel ctx to
// abandon the stream.
func (s *OrchestratorService) ProcessStream(ctx context.Context, req Request) <-chan Chunk {
	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		s.runStream(ctx, req, out)
	}()
	return out
}

func (s *OrchestratorService) runStream(ctx context.Context, req Request, out chan<- Chunk) {
	start := time.Now()
	requestID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, requestID)
	ctx, span := otel.StartRequestSpan(ctx, requestID, req.SessionID, req.VoiceMode)
	defer span.End()

	log := slog.With("request_id", requestID, "session_id", req.SessionID)
	log.Info("processing streaming query", "voice_mode", req.VoiceMode)

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
		send(ctx, out, Chunk{
			Type:      ChunkFinal,
			RequestID: requestID,
			Content:   hit.Response,
			Synthesis: trace.Synthesis,
			CacheHit:  true,
		})
		return
	}

	sel := s.router.Select(ctx, req.Query)
	trace.SelectedAgents = sel.Agents
	trace.ConfidenceScores = sel.Scores
	trace.Strategy = sel.Strategy
	scores := sel.ScoreMap()

	// Stream each specialist answer as it lands, keeping every result for
	// the synthesis step. Results are reordered to the selection order so
	// the trace and aggregation see the same shape as the blocking path.
	byAgent := make(map[string]orchestration.AgentResult, len(sel.Agents))
	for sr := range s.executor.RunStream(ctx, sel.Agents, req.Query, req.Context) {
		byAgent[sr.Agent] = sr.Result
		if sr.Result.Succeeded() {
			send(ctx, out, Chunk{
				Type:       ChunkPartial,
				RequestID:  requestID,
				Source:     sr.Agent,
				Confidence: scores[sr.Agent],
				Content:    sr.Result.Output,
			})
		}
	}
	results := make([]orchestration.AgentResult, 0, len(sel.Agents))
	for _, name := range sel.Agents {
		results = append(results, byAgent[name])
	}
	trace.AgentResults = results

	synthCtx, synthSpan := otel.StartSynthesisSpan(ctx, orchestration.SuccessCount(results))
	synthesis := s.aggregator.Synthesize(synthCtx, req.Query, results, scores, req.VoiceMode)
	synthSpan.End()
	trace.Synthesis = synthesis

	s.storeCache(ctx, req, synthesis)

	trace.TotalLatencyMs = msSince(start)
	s.emit(trace)

	send(ctx, out, Chunk{
		Type:      ChunkFinal,
		RequestID: requestID,
		Content:   synthesis.Content,
		Synthesis: synthesis,
	})
	log.Info("streaming query processed",
		"agents", len(sel.Agents),
		"successful", orchestration.SuccessCount(results),
		"latency_ms", trace.TotalLatencyMs)
}

// send delivers a chunk unless the consumer has gone away.
func send(ctx context.Context, out chan<- Chunk, c Chunk) {
	select {
	case out <- c:
	case <-ctx.Done():
	}
}
