package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/port/provider"
	"github.com/calier/moxie/internal/port/specialist"
	"github.com/calier/moxie/internal/port/tracesink"
	"github.com/calier/moxie/internal/service"
)

// chanSink delivers emitted traces to the test goroutine.
type chanSink struct{ ch chan *orchestration.Trace }

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *orchestration.Trace, 4)}
}

func (s *chanSink) Emit(_ context.Context, trace *orchestration.Trace) error {
	s.ch <- trace
	return nil
}

func (s *chanSink) wait(t *testing.T) *orchestration.Trace {
	t.Helper()
	select {
	case tr := <-s.ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for trace emission")
		return nil
	}
}

// goodSynthesis sits inside the quality score's word and sentence bands.
const goodSynthesis = "Two plus two equals four. This follows from the axioms of arithmetic. " +
	"Both specialists arrived at the same result independently, which gives the answer high confidence. " +
	"There is no ambiguity here and no alternative interpretation worth mentioning for this question."

type orchestratorFixture struct {
	orch       *service.OrchestratorService
	sink       *chanSink
	synth      *stubSynthesizer
	cache      *service.SemanticCacheService
	invokeA    *atomic.Int32
	invokeB    *atomic.Int32
	classifier *stubClassifier
}

// newOrchestratorFixture wires real services around stub providers:
// classifier routing picks mathbot then logicbot.
func newOrchestratorFixture(t *testing.T, withCache bool, invokeErr error) *orchestratorFixture {
	t.Helper()

	reg := newTestRegistry(t, map[string][]float32{
		"logicbot": {0, 1},
		"mathbot":  {1, 0},
	})

	classifier := &stubClassifier{scores: []provider.Score{
		{Name: "mathbot", Score: 0.9},
		{Name: "logicbot", Score: 0.6},
	}}
	routerCfg := testRouterConfig()
	routerCfg.Strategy = "classifier"
	embedder := &stubEmbedder{fallback: []float32{1, 0}}
	router := service.NewRouterService(reg, embedder, classifier, routerCfg)

	var callsA, callsB atomic.Int32
	invokers := map[string]specialist.Invoker{
		"mathbot": specialist.Func(func(context.Context, string, map[string]string) (string, error) {
			callsA.Add(1)
			if invokeErr != nil {
				return "", invokeErr
			}
			return "the sum is four", nil
		}),
		"logicbot": specialist.Func(func(context.Context, string, map[string]string) (string, error) {
			callsB.Add(1)
			if invokeErr != nil {
				return "", invokeErr
			}
			return "it follows that 4", nil
		}),
	}
	executor := service.NewExecutorService(reg, invokers, testLimiter(), testExecutorConfig())

	synth := &stubSynthesizer{out: goodSynthesis}
	aggregator := service.NewAggregatorService(synth, nil, testAggregatorConfig())

	cacheCfg := config.Defaults().Cache
	var cacheSvc *service.SemanticCacheService
	if withCache {
		cacheSvc = service.NewSemanticCacheService(embedder, nil, &cacheCfg)
	}

	sink := newChanSink()
	orch := service.NewOrchestratorService(router, executor, aggregator, cacheSvc,
		tracesink.Multi{sink}, &cacheCfg)

	return &orchestratorFixture{
		orch:       orch,
		sink:       sink,
		synth:      synth,
		cache:      cacheSvc,
		invokeA:    &callsA,
		invokeB:    &callsB,
		classifier: classifier,
	}
}

func TestProcessHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t, false, nil)

	resp, err := f.orch.Process(context.Background(), service.Request{Query: "what is 2+2", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if resp.Text != goodSynthesis {
		t.Errorf("unexpected response text: %q", resp.Text)
	}

	tr := resp.Trace
	if tr.RequestID == "" {
		t.Error("trace must carry a request ID")
	}
	if tr.SessionID != "s-1" {
		t.Errorf("expected session id propagated, got %q", tr.SessionID)
	}
	if len(tr.SelectedAgents) != len(tr.ConfidenceScores) {
		t.Errorf("selected agents and scores must stay parallel: %d vs %d",
			len(tr.SelectedAgents), len(tr.ConfidenceScores))
	}
	if len(tr.AgentResults) != 2 {
		t.Fatalf("expected 2 agent results, got %d", len(tr.AgentResults))
	}
	if tr.CacheHit {
		t.Error("first request cannot be a cache hit")
	}
	if tr.Synthesis == nil || tr.Synthesis.QualityScore <= 0 {
		t.Errorf("expected scored synthesis, got %+v", tr.Synthesis)
	}
	if tr.TotalLatencyMs <= 0 {
		t.Error("expected positive total latency")
	}

	emitted := f.sink.wait(t)
	if emitted.RequestID != tr.RequestID {
		t.Errorf("sink received wrong trace: %s vs %s", emitted.RequestID, tr.RequestID)
	}
}

func TestProcessAllSpecialistsFailingYieldsFallback(t *testing.T) {
	f := newOrchestratorFixture(t, false, errors.New("backend down"))

	resp, err := f.orch.Process(context.Background(), service.Request{Query: "what is 2+2"})
	if err != nil {
		t.Fatalf("specialist failures must not surface as errors, got %v", err)
	}
	if resp.Trace.Synthesis.QualityScore != 0.0 {
		t.Errorf("fallback must score 0.0, got %v", resp.Trace.Synthesis.QualityScore)
	}
	if len(resp.Trace.Synthesis.Provenance) != 0 {
		t.Errorf("fallback has no provenance, got %v", resp.Trace.Synthesis.Provenance)
	}
	for _, r := range resp.Trace.AgentResults {
		if r.Succeeded() {
			t.Errorf("expected all results failed, got %+v", r)
		}
	}
	f.sink.wait(t)
}

func TestProcessEmptySelectionYieldsFallback(t *testing.T) {
	f := newOrchestratorFixture(t, false, nil)
	f.classifier.err = errors.New("classifier down")

	resp, err := f.orch.Process(context.Background(), service.Request{Query: "anything"})
	if err != nil {
		t.Fatalf("routing failure must not surface as an error, got %v", err)
	}
	if len(resp.Trace.SelectedAgents) != 0 {
		t.Errorf("expected empty selection, got %v", resp.Trace.SelectedAgents)
	}
	if f.invokeA.Load() != 0 || f.invokeB.Load() != 0 {
		t.Error("no specialists should run on an empty selection")
	}
	if resp.Trace.Synthesis.QualityScore != 0.0 {
		t.Errorf("expected fallback synthesis, got %+v", resp.Trace.Synthesis)
	}
	f.sink.wait(t)
}

func TestProcessCacheHitSkipsPipeline(t *testing.T) {
	f := newOrchestratorFixture(t, true, nil)

	first, err := f.orch.Process(context.Background(), service.Request{Query: "what is 2+2"})
	if err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	if first.Trace.CacheHit {
		t.Fatal("first request cannot be a cache hit")
	}
	f.sink.wait(t)
	callsAfterFirst := f.invokeA.Load() + f.invokeB.Load()

	second, err := f.orch.Process(context.Background(), service.Request{Query: "what is 2+2"})
	if err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if !second.Trace.CacheHit {
		t.Fatal("expected cache hit on repeat query")
	}
	if second.Text != first.Text {
		t.Errorf("cached response must match original: %q vs %q", second.Text, first.Text)
	}
	if got := f.invokeA.Load() + f.invokeB.Load(); got != callsAfterFirst {
		t.Errorf("cache hit must not invoke specialists, calls went %d -> %d", callsAfterFirst, got)
	}
	if len(second.Trace.SelectedAgents) != 0 {
		t.Errorf("cache hit skips routing, got %v", second.Trace.SelectedAgents)
	}
	f.sink.wait(t)
}

func TestProcessStreamEmitsPartialsThenFinal(t *testing.T) {
	f := newOrchestratorFixture(t, false, nil)

	var chunks []service.Chunk
	for c := range f.orch.ProcessStream(context.Background(), service.Request{Query: "what is 2+2"}) {
		chunks = append(chunks, c)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 2 partial chunks and 1 final, got %d", len(chunks))
	}
	for _, c := range chunks[:2] {
		if c.Type != service.ChunkPartial {
			t.Errorf("expected partial chunk, got %s", c.Type)
		}
		if c.Source == "" || c.Confidence <= 0 {
			t.Errorf("partial chunks carry source and confidence: %+v", c)
		}
		if c.Content == "" {
			t.Errorf("partial chunks carry specialist output: %+v", c)
		}
	}
	final := chunks[2]
	if final.Type != service.ChunkFinal {
		t.Fatalf("last chunk must be final, got %s", final.Type)
	}
	if final.Content != goodSynthesis {
		t.Errorf("unexpected final content: %q", final.Content)
	}
	if final.Synthesis == nil || len(final.Synthesis.Provenance) != 2 {
		t.Errorf("final chunk carries the synthesis: %+v", final.Synthesis)
	}
	if final.RequestID == "" || final.RequestID != chunks[0].RequestID {
		t.Error("all chunks share one request ID")
	}
	f.sink.wait(t)
}

func TestProcessStreamFailedSpecialistsProduceNoPartials(t *testing.T) {
	f := newOrchestratorFixture(t, false, errors.New("backend down"))

	var chunks []service.Chunk
	for c := range f.orch.ProcessStream(context.Background(), service.Request{Query: "q"}) {
		chunks = append(chunks, c)
	}

	if len(chunks) != 1 {
		t.Fatalf("expected only the final chunk, got %d", len(chunks))
	}
	if chunks[0].Type != service.ChunkFinal {
		t.Errorf("expected final chunk, got %s", chunks[0].Type)
	}
	f.sink.wait(t)
}
