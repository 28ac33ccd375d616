package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/calier/moxie/internal/config"
)

// vecEmbedder maps exact text to canned vectors.
type vecEmbedder struct {
	mu    sync.Mutex
	vecs  map[string][]float32
	err   error
	calls int
}

func (e *vecEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

// memCache is an in-memory exact tier for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func testCacheConfig() *config.Cache {
	return &config.Cache{
		Enabled:    true,
		Threshold:  0.1,
		TTL:        time.Hour,
		Capacity:   1000,
		MinQuality: 0.7,
	}
}

func TestCacheSimilarityHit(t *testing.T) {
	embedder := &vecEmbedder{vecs: map[string][]float32{
		"what is the capital of france": {1, 0, 0},
		"capital of france?":            {0.995, 0.0999, 0},
		"how do magnets work":           {0, 1, 0},
	}}
	c := NewSemanticCacheService(embedder, nil, testCacheConfig())

	c.Store(context.Background(), "what is the capital of france", "Paris.", nil, 0.9)

	hit, ok := c.Check(context.Background(), "capital of france?", 0)
	if !ok {
		t.Fatal("expected a similarity hit within the distance threshold")
	}
	if hit.Response != "Paris." {
		t.Errorf("unexpected response: %q", hit.Response)
	}
	if hit.Similarity < 0.9 {
		t.Errorf("expected high similarity, got %v", hit.Similarity)
	}

	if _, ok := c.Check(context.Background(), "how do magnets work", 0); ok {
		t.Error("orthogonal query must miss")
	}
}

func TestCacheQualityFloorBlocksStore(t *testing.T) {
	embedder := &vecEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	c := NewSemanticCacheService(embedder, nil, testCacheConfig())

	c.Store(context.Background(), "q", "a mediocre answer", nil, 0.5)

	if _, ok := c.Check(context.Background(), "q", 0); ok {
		t.Fatal("low-quality responses must not be cached")
	}
	if stats := c.Stats(); stats.Entries != 0 {
		t.Errorf("expected 0 entries, got %d", stats.Entries)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	embedder := &vecEmbedder{vecs: map[string][]float32{"q": {1, 0, 0}}}
	cfg := testCacheConfig()
	cfg.TTL = 10 * time.Minute
	c := NewSemanticCacheService(embedder, nil, cfg)

	base := time.Now()
	c.now = func() time.Time { return base }

	c.Store(context.Background(), "q", "fresh answer", nil, 0.9)
	if _, ok := c.Check(context.Background(), "q", 0); !ok {
		t.Fatal("expected hit before expiry")
	}

	c.now = func() time.Time { return base.Add(11 * time.Minute) }
	if _, ok := c.Check(context.Background(), "q", 0); ok {
		t.Fatal("expected miss after TTL")
	}
	if stats := c.Stats(); stats.Evictions == 0 {
		t.Error("expired entry should count as an eviction")
	}
}

func TestCacheCapacityEvictsOldest(t *testing.T) {
	embedder := &vecEmbedder{vecs: map[string][]float32{
		"first":  {1, 0, 0},
		"second": {0, 1, 0},
		"third":  {0, 0, 1},
	}}
	cfg := testCacheConfig()
	cfg.Capacity = 2
	c := NewSemanticCacheService(embedder, nil, cfg)

	c.Store(context.Background(), "first", "1", nil, 0.9)
	c.Store(context.Background(), "second", "2", nil, 0.9)
	c.Store(context.Background(), "third", "3", nil, 0.9)

	stats := c.Stats()
	if stats.Entries != 2 {
		t.Fatalf("expected capacity-bounded entries, got %d", stats.Entries)
	}
	if stats.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Evictions)
	}
	if _, ok := c.Check(context.Background(), "first", 0); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Check(context.Background(), "third", 0); !ok {
		t.Error("newest entry should survive")
	}
}

func TestCacheEmbedderFailureDegradesToMiss(t *testing.T) {
	embedder := &vecEmbedder{err: errors.New("embedding service down")}
	c := NewSemanticCacheService(embedder, nil, testCacheConfig())

	c.Store(context.Background(), "q", "a", nil, 0.9) // silent no-op
	if _, ok := c.Check(context.Background(), "q", 0); ok {
		t.Fatal("expected miss when embeddings are unavailable")
	}
	if stats := c.Stats(); stats.Entries != 0 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCacheExactTierSkipsEmbedding(t *testing.T) {
	embedder := &vecEmbedder{vecs: map[string][]float32{
		"what is go": {1, 0, 0},
	}}
	c := NewSemanticCacheService(embedder, newMemCache(), testCacheConfig())

	c.Store(context.Background(), "what is go", "A programming language.", nil, 0.9)
	storeCalls := embedder.calls

	// Same query modulo case and spacing hits the exact tier.
	hit, ok := c.Check(context.Background(), "  What IS   go ", 0)
	if !ok {
		t.Fatal("expected exact-tier hit")
	}
	if hit.Similarity != 1.0 {
		t.Errorf("exact hits report similarity 1.0, got %v", hit.Similarity)
	}
	if embedder.calls != storeCalls {
		t.Errorf("exact-tier hit must not embed the query, calls went %d -> %d", storeCalls, embedder.calls)
	}
}

func TestCacheStatsCounters(t *testing.T) {
	embedder := &vecEmbedder{vecs: map[string][]float32{
		"known":   {1, 0, 0},
		"unknown": {0, 1, 0},
	}}
	c := NewSemanticCacheService(embedder, nil, testCacheConfig())

	c.Store(context.Background(), "known", "answer", nil, 0.9)
	c.Check(context.Background(), "known", 0)
	c.Check(context.Background(), "unknown", 0)

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Entries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
