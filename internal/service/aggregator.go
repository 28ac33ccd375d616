package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/port/provider"
)

// fallbackResponse is the deterministic answer returned when no specialist
// produced usable output. It never enters the semantic cache.
const fallbackResponse = "I wasn't able to find a reliable answer to that just now. Could you rephrase or try again?"

// ConflictDetector inspects successful specialist outputs for mutually
// contradictory claims.
type ConflictDetector interface {
	Detect(ctx context.Context, results []orchestration.AgentResult) []orchestration.Conflict
}

// NoopConflictDetector reports no conflicts. Detection quality depends
// heavily on the deployment's domain, so the default stays out of the way.
type NoopConflictDetector struct{}

func (NoopConflictDetector) Detect(context.Context, []orchestration.AgentResult) []orchestration.Conflict {
	return nil
}

// AggregatorService synthesizes specialist outputs into one response with
// provenance and a quality score.
type AggregatorService struct {
	synthesizer provider.Synthesizer
	detector    ConflictDetector
	cfg         *config.Aggregator
}

// NewAggregatorService creates an AggregatorService. A nil detector
// defaults to NoopConflictDetector.
func NewAggregatorService(synthesizer provider.Synthesizer, detector ConflictDetector, cfg *config.Aggregator) *AggregatorService {
	if detector == nil {
		detector = NoopConflictDetector{}
	}
	return &AggregatorService{synthesizer: synthesizer, detector: detector, cfg: cfg}
}

// Synthesize combines the successful results into a single response.
// scores are the router's confidence scores, parallel to the original
// agent order; they weight the synthesis prompt by confidence label.
// With zero successful results the fixed fallback is returned.
func (s *AggregatorService) Synthesize(ctx context.Context, query string, results []orchestration.AgentResult, scores map[string]float64, voiceMode bool) *orchestration.SynthesizedResponse {
	successful := make([]orchestration.AgentResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded() {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		slog.WarnContext(ctx, "no successful specialist outputs, returning fallback", "total_results", len(results))
		return &orchestration.SynthesizedResponse{
			Content:      fallbackResponse,
			QualityScore: 0.0,
		}
	}

	provenance := make([]string, 0, len(successful))
	for _, r := range successful {
		provenance = append(provenance, r.Agent)
	}

	content, err := s.synthesizer.Synthesize(ctx, s.buildPrompt(query, successful, scores, voiceMode))
	if err != nil {
		// Synthesis provider down but specialists answered: serve the
		// highest-confidence single output rather than the fallback.
		slog.WarnContext(ctx, "synthesis failed, degrading to best single output", "error", err)
		best := bestResult(successful, scores)
		resp := &orchestration.SynthesizedResponse{
			Content:      best.Output,
			Provenance:   []string{best.Agent},
			QualityScore: s.qualityScore(best.Output, 1, scores[best.Agent]),
		}
		if voiceMode {
			resp.Content = voiceTransform(resp.Content)
		}
		return resp
	}

	resp := &orchestration.SynthesizedResponse{
		Content:      content,
		Provenance:   provenance,
		QualityScore: s.qualityScore(content, len(successful), avgConfidence(successful, scores)),
	}
	if voiceMode {
		resp.Content = voiceTransform(resp.Content)
	} else {
		resp.Conflicts = s.detector.Detect(ctx, successful)
	}
	return resp
}

// buildPrompt renders specialist outputs with confidence labels so the
// synthesizer weighs high-confidence sources more heavily.
func (s *AggregatorService) buildPrompt(query string, results []orchestration.AgentResult, scores map[string]float64, voiceMode bool) string {
	var b strings.Builder
	b.WriteString("Synthesize the following specialist answers into a single coherent response.\n")
	b.WriteString("Weigh sources by their confidence label. Do not invent facts absent from the sources.\n")
	if voiceMode {
		b.WriteString("The response will be spoken aloud: keep sentences short and avoid citations, lists and markdown.\n")
	}
	fmt.Fprintf(&b, "\nUser question: %s\n\nSpecialist answers:\n", query)
	for _, r := range results {
		label := orchestration.ConfidenceLabel(scores[r.Agent])
		fmt.Fprintf(&b, "\n[%s, confidence: %s]\n%s\n", r.Agent, label, r.Output)
	}
	return b.String()
}

// qualityScore blends source diversity, routing confidence, response length
// and structural shape into one [0,1] score using the configured weights.
func (s *AggregatorService) qualityScore(content string, sources int, confidence float64) float64 {
	diversity := float64(sources) / 3.0
	if diversity > 1.0 {
		diversity = 1.0
	}
	q := s.cfg.Quality
	score := q.DiversityWeight*diversity +
		q.ConfidenceWeight*confidence +
		q.LengthWeight*lengthScore(content, q.TargetWordsMin, q.TargetWordsMax) +
		q.StructureWeight*structureScore(content, q.TargetSentsMin, q.TargetSentsMax)
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

// lengthScore is 1 inside the word band and decays proportionally outside it.
func lengthScore(content string, minWords, maxWords int) float64 {
	words := len(strings.Fields(content))
	switch {
	case words == 0:
		return 0
	case words < minWords:
		return float64(words) / float64(minWords)
	case words > maxWords:
		return float64(maxWords) / float64(words)
	default:
		return 1.0
	}
}

// structureScore is 1 inside the sentence band and decays outside it.
func structureScore(content string, minSentences, maxSentences int) float64 {
	n := countSentences(content)
	switch {
	case n == 0:
		return 0
	case n < minSentences:
		return float64(n) / float64(minSentences)
	case n > maxSentences:
		return float64(maxSentences) / float64(n)
	default:
		return 1.0
	}
}

func countSentences(content string) int {
	n := 0
	for _, r := range content {
		switch r {
		case '.', '!', '?':
			n++
		}
	}
	return n
}

// bestResult picks the successful result with the highest routing
// confidence, first result winning ties.
func bestResult(results []orchestration.AgentResult, scores map[string]float64) orchestration.AgentResult {
	best := results[0]
	for _, r := range results[1:] {
		if scores[r.Agent] > scores[best.Agent] {
			best = r
		}
	}
	return best
}

// avgConfidence averages the routing confidence of the contributing agents.
func avgConfidence(results []orchestration.AgentResult, scores map[string]float64) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += scores[r.Agent]
	}
	return sum / float64(len(results))
}
