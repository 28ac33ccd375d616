// Package service implements the MoE pipeline: routing, execution,
// aggregation, semantic caching and the orchestrator composing them.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain/expert"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/port/provider"
)

// RouterService selects the subset of specialists relevant to a query and
// assigns each a confidence score. It holds no per-request mutable state;
// the only mutable field is the last routing explanation, kept solely for
// the debug endpoint.
type RouterService struct {
	registry   *expert.Registry
	embedder   provider.Embedder
	classifier provider.Classifier
	cfg        *config.Router

	lastExplanation atomic.Pointer[string]
}

// NewRouterService creates a RouterService.
func NewRouterService(registry *expert.Registry, embedder provider.Embedder, classifier provider.Classifier, cfg *config.Router) *RouterService {
	return &RouterService{
		registry:   registry,
		embedder:   embedder,
		classifier: classifier,
		cfg:        cfg,
	}
}

// RegisterAgent adds a specialist to the registry. When no capability
// embedding is supplied, one is computed once from the joined tags; an
// embedding failure keeps the specialist routable via the classifier.
func (s *RouterService) RegisterAgent(ctx context.Context, spec *expert.Specialist) error {
	if spec.Embedding == nil && s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, spec.TagText())
		if err != nil {
			slog.Warn("capability embedding failed, specialist will rely on classifier routing",
				"specialist", spec.Name, "error", err)
		} else {
			spec.Embedding = emb
		}
	}
	if err := s.registry.Register(spec); err != nil {
		return fmt.Errorf("register specialist: %w", err)
	}
	slog.Info("specialist registered", "name", spec.Name, "provider", spec.Provider, "tags", len(spec.Tags))
	return nil
}

// Select picks up to the configured number of specialists for the query.
// Provider failures never fail the request: the router degrades to whichever
// strategy succeeded, or to an empty selection handled downstream by the
// aggregator's fallback.
func (s *RouterService) Select(ctx context.Context, query string) *orchestration.Selection {
	var sel *orchestration.Selection
	switch s.cfg.Strategy {
	case "embedding":
		sel = s.selectEmbedding(ctx, query)
	case "classifier":
		sel = s.selectClassifier(ctx, query)
	default:
		sel = s.selectHybrid(ctx, query)
	}

	s.lastExplanation.Store(&sel.Explanation)
	slog.InfoContext(ctx, "routing decision",
		"strategy", sel.Strategy,
		"agents", sel.Agents,
		"scores", sel.Scores,
	)
	return sel
}

// RoutingExplanation returns a human-readable justification of the last
// routing decision. Debug surface only; business logic never reads it.
func (s *RouterService) RoutingExplanation() string {
	if p := s.lastExplanation.Load(); p != nil {
		return *p
	}
	return "no routing decision yet"
}

// selectEmbedding scores specialists by cosine similarity between the query
// embedding and each capability embedding.
func (s *RouterService) selectEmbedding(ctx context.Context, query string) *orchestration.Selection {
	scores, err := s.embeddingScores(ctx, query)
	if err != nil {
		slog.Warn("embedding routing failed", "error", err)
		return &orchestration.Selection{
			Strategy:    orchestration.StrategyEmbedding,
			Explanation: fmt.Sprintf("embedding strategy failed (%v); empty selection", err),
		}
	}
	return s.finalize(scores, orchestration.StrategyEmbedding,
		fmt.Sprintf("embedding similarity vs threshold %.2f", s.cfg.Threshold))
}

// selectClassifier scores specialists with the LLM classifier.
func (s *RouterService) selectClassifier(ctx context.Context, query string) *orchestration.Selection {
	scores, err := s.classifierScores(ctx, query)
	if err != nil {
		slog.Warn("classifier routing failed", "error", err)
		return &orchestration.Selection{
			Strategy:    orchestration.StrategyClassifier,
			Explanation: fmt.Sprintf("classifier strategy failed (%v); empty selection", err),
		}
	}
	return s.finalize(scores, orchestration.StrategyClassifier,
		fmt.Sprintf("classifier scores vs threshold %.2f", s.cfg.Threshold))
}

// selectHybrid runs the embedding strategy first and short-circuits on a
// conclusive top score (the fast path, the majority of traffic). Otherwise
// it blends embedding and classifier scores.
func (s *RouterService) selectHybrid(ctx context.Context, query string) *orchestration.Selection {
	embScores, embErr := s.embeddingScores(ctx, query)
	if embErr == nil {
		if top, ok := topScore(embScores); ok && top >= s.cfg.FastPathThreshold {
			return s.finalize(embScores, orchestration.StrategyEmbedding,
				fmt.Sprintf("fast path: top embedding score %.2f >= %.2f, classifier skipped", top, s.cfg.FastPathThreshold))
		}
	} else {
		slog.Warn("hybrid routing: embedding strategy failed, degrading to classifier", "error", embErr)
	}

	classScores, classErr := s.classifierScores(ctx, query)
	if classErr != nil {
		slog.Warn("hybrid routing: classifier strategy failed", "error", classErr)
		if embErr != nil {
			return &orchestration.Selection{
				Strategy:    orchestration.StrategyHybrid,
				Explanation: "both embedding and classifier strategies failed; empty selection",
			}
		}
		return s.finalize(embScores, orchestration.StrategyEmbedding,
			"classifier failed; degraded to embedding scores only")
	}
	if embErr != nil {
		return s.finalize(classScores, orchestration.StrategyClassifier,
			"embedding failed; degraded to classifier scores only")
	}

	// Blend the union of both result sets; an agent absent from one side
	// contributes zero from that side.
	combined := make(map[string]float64, len(embScores)+len(classScores))
	for name, sc := range embScores {
		combined[name] += s.cfg.EmbeddingWeight * sc
	}
	for name, sc := range classScores {
		combined[name] += s.cfg.ClassifierWeight * sc
	}
	return s.finalize(combined, orchestration.StrategyHybrid,
		fmt.Sprintf("hybrid blend %.1f*embedding + %.1f*classifier", s.cfg.EmbeddingWeight, s.cfg.ClassifierWeight))
}

// embeddingScores returns per-specialist cosine similarity for the query.
func (s *RouterService) embeddingScores(ctx context.Context, query string) (map[string]float64, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scores := make(map[string]float64)
	for _, spec := range s.registry.All() {
		if spec.Embedding == nil {
			continue
		}
		scores[spec.Name] = cosineSimilarity(queryEmb, spec.Embedding)
	}
	return scores, nil
}

// classifierScores returns the LLM classifier's per-specialist scores.
func (s *RouterService) classifierScores(ctx context.Context, query string) (map[string]float64, error) {
	if s.classifier == nil {
		return nil, fmt.Errorf("no classifier configured")
	}
	all := s.registry.All()
	candidates := make([]provider.Candidate, 0, len(all))
	for _, spec := range all {
		candidates = append(candidates, provider.Candidate{Name: spec.Name, Tags: spec.Tags})
	}

	raw, err := s.classifier.Classify(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	scores := make(map[string]float64, len(raw))
	for _, r := range raw {
		scores[r.Name] = r.Score
	}
	return scores, nil
}

// finalize filters by threshold, sorts descending and truncates to the
// configured agent budget. Ties break on name for deterministic output.
func (s *RouterService) finalize(scores map[string]float64, strategy orchestration.Strategy, reason string) *orchestration.Selection {
	type scored struct {
		name  string
		score float64
	}
	kept := make([]scored, 0, len(scores))
	for name, sc := range scores {
		if sc >= s.cfg.Threshold {
			kept = append(kept, scored{name, sc})
		}
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].score != kept[j].score {
			return kept[i].score > kept[j].score
		}
		return kept[i].name < kept[j].name
	})
	if len(kept) > s.cfg.MaxAgents {
		kept = kept[:s.cfg.MaxAgents]
	}

	sel := &orchestration.Selection{Strategy: strategy}
	var parts []string
	for _, k := range kept {
		sel.Agents = append(sel.Agents, k.name)
		sel.Scores = append(sel.Scores, k.score)
		parts = append(parts, fmt.Sprintf("%s=%.2f", k.name, k.score))
	}
	sel.Explanation = fmt.Sprintf("strategy=%s; %s; selected [%s]", strategy, reason, strings.Join(parts, ", "))
	return sel
}

// topScore returns the highest score in the map.
func topScore(scores map[string]float64) (float64, bool) {
	top, found := 0.0, false
	for _, sc := range scores {
		if !found || sc > top {
			top, found = sc, true
		}
	}
	return top, found
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
