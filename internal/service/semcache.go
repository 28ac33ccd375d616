package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/port/cache"
	"github.com/calier/moxie/internal/port/provider"
)

// CacheHit is a semantic cache lookup result.
type CacheHit struct {
	Response   string
	Similarity float64
	Metadata   map[string]string
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// cacheEntry is one stored query/response pair in the similarity store.
type cacheEntry struct {
	Query     string
	Embedding []float32
	Response  string
	Metadata  map[string]string
	CreatedAt time.Time
}

// exactEntry is the JSON shape stored in the exact-match tiers.
type exactEntry struct {
	Response  string            `json:"response"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// SemanticCacheService caches synthesized responses keyed by query meaning.
// Lookups hit an exact-match tier first (normalized query hash), then fall
// back to a cosine-distance scan over stored embeddings. The cache is an
// optimization layer: every internal failure degrades to a miss.
type SemanticCacheService struct {
	embedder provider.Embedder
	exact    cache.Cache // optional fast tier, may be nil
	cfg      *config.Cache
	now      func() time.Time

	mu      sync.Mutex
	entries []*cacheEntry // append order doubles as age order

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewSemanticCacheService creates a SemanticCacheService. exact may be nil
// to run on the similarity store alone.
func NewSemanticCacheService(embedder provider.Embedder, exact cache.Cache, cfg *config.Cache) *SemanticCacheService {
	return &SemanticCacheService{
		embedder: embedder,
		exact:    exact,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Check looks the query up. threshold is a maximum cosine distance; pass 0
// to use the configured default. The boolean reports whether a fresh entry
// within the threshold was found.
func (s *SemanticCacheService) Check(ctx context.Context, query string, threshold float64) (*CacheHit, bool) {
	if threshold <= 0 {
		threshold = s.cfg.Threshold
	}
	normalized := normalizeQuery(query)

	if hit := s.checkExact(ctx, normalized); hit != nil {
		s.hits.Add(1)
		slog.DebugContext(ctx, "semantic cache exact hit", "query_key", exactKey(normalized))
		return hit, true
	}

	queryEmb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.DebugContext(ctx, "cache embedding failed, treating as miss", "error", err)
		s.misses.Add(1)
		return nil, false
	}

	s.mu.Lock()
	s.pruneExpiredLocked()
	var best *cacheEntry
	bestSim := 0.0
	for _, e := range s.entries {
		sim := cosineSimilarity(queryEmb, e.Embedding)
		if 1.0-sim <= threshold && sim > bestSim {
			best, bestSim = e, sim
		}
	}
	s.mu.Unlock()

	if best == nil {
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	slog.DebugContext(ctx, "semantic cache similarity hit", "similarity", bestSim, "stored_query", best.Query)

	// Backfill the exact tier so repeats of this phrasing skip the scan.
	s.setExact(ctx, normalized, &exactEntry{
		Response:  best.Response,
		Metadata:  best.Metadata,
		CreatedAt: best.CreatedAt,
	})
	return &CacheHit{Response: best.Response, Similarity: bestSim, Metadata: best.Metadata}, true
}

// Store saves a response unless its quality score falls below the minimum.
// Embedding failures make Store a silent no-op.
func (s *SemanticCacheService) Store(ctx context.Context, query, response string, metadata map[string]string, quality float64) {
	if quality < s.cfg.MinQuality {
		slog.DebugContext(ctx, "response below cache quality floor, not stored", "quality", quality, "floor", s.cfg.MinQuality)
		return
	}
	emb, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.DebugContext(ctx, "cache store embedding failed, skipping", "error", err)
		return
	}

	normalized := normalizeQuery(query)
	entry := &cacheEntry{
		Query:     query,
		Embedding: emb,
		Response:  response,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.pruneExpiredLocked()
	for len(s.entries) > s.cfg.Capacity {
		s.entries = s.entries[1:]
		s.evictions.Add(1)
	}
	s.mu.Unlock()

	s.setExact(ctx, normalized, &exactEntry{
		Response:  response,
		Metadata:  metadata,
		CreatedAt: entry.CreatedAt,
	})
}

// Stats returns a snapshot of the cache counters.
func (s *SemanticCacheService) Stats() CacheStats {
	s.mu.Lock()
	entries := len(s.entries)
	s.mu.Unlock()
	return CacheStats{
		Entries:   entries,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// checkExact consults the exact-match tier, tolerating any tier failure.
func (s *SemanticCacheService) checkExact(ctx context.Context, normalized string) *CacheHit {
	if s.exact == nil {
		return nil
	}
	raw, found, err := s.exact.Get(ctx, exactKey(normalized))
	if err != nil || !found {
		return nil
	}
	var e exactEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil
	}
	if s.now().Sub(e.CreatedAt) > s.cfg.TTL {
		return nil
	}
	return &CacheHit{Response: e.Response, Similarity: 1.0, Metadata: e.Metadata}
}

func (s *SemanticCacheService) setExact(ctx context.Context, normalized string, e *exactEntry) {
	if s.exact == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.exact.Set(ctx, exactKey(normalized), raw, s.cfg.TTL); err != nil {
		slog.DebugContext(ctx, "exact cache tier set failed", "error", err)
	}
}

// pruneExpiredLocked drops entries past their TTL. Caller holds mu.
func (s *SemanticCacheService) pruneExpiredLocked() {
	cutoff := s.now().Add(-s.cfg.TTL)
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.CreatedAt.After(cutoff) {
			kept = append(kept, e)
		} else {
			s.evictions.Add(1)
		}
	}
	s.entries = kept
}

// normalizeQuery lowercases, trims and collapses whitespace so trivially
// different phrasings share one exact-tier key.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func exactKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return "q:" + hex.EncodeToString(sum[:])
}
