package service_test

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain/expert"
	"github.com/calier/moxie/internal/port/provider"
)

// stubEmbedder returns canned vectors keyed by input text.
type stubEmbedder struct {
	mu       sync.Mutex
	vecs     map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return e.fallback, nil
}

// stubClassifier returns canned scores.
type stubClassifier struct {
	scores []provider.Score
	err    error
	calls  atomic.Int32
}

func (c *stubClassifier) Classify(context.Context, string, []provider.Candidate) ([]provider.Score, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.scores, nil
}

// stubSynthesizer returns a canned response and records prompts.
type stubSynthesizer struct {
	mu      sync.Mutex
	out     string
	err     error
	prompts []string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.out, nil
}

func (s *stubSynthesizer) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

// newTestRegistry registers specialists with precomputed capability
// embeddings. provider defaults to "openai".
func newTestRegistry(t *testing.T, embeddings map[string][]float32) *expert.Registry {
	t.Helper()
	reg := expert.NewRegistry()
	// Stable registration order keeps assertions deterministic.
	names := make([]string, 0, len(embeddings))
	for name := range embeddings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := reg.Register(&expert.Specialist{
			Name:      name,
			Provider:  "openai",
			Tags:      []string{name},
			Embedding: embeddings[name],
		}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return reg
}

func testRouterConfig() *config.Router {
	cfg := config.Defaults().Router
	return &cfg
}
