package resilience

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ProviderLimiter bounds concurrent in-flight calls per downstream provider
// with a counting semaphore, optionally smoothing the sustained request rate
// on top. Acquire blocks the calling goroutine until a slot frees or the
// context is cancelled. The limiter is the only rate state shared across
// concurrent requests.
type ProviderLimiter struct {
	mu           sync.RWMutex
	sems         map[string]*semaphore.Weighted
	rates        map[string]*rate.Limiter
	inFlight     map[string]*atomic.Int64
	limits       map[string]int64
	defaultLimit int64
}

// NewProviderLimiter creates a limiter with the given per-provider
// concurrency limits. Providers not listed fall back to defaultLimit.
// ratePerSecond entries (optional) add sustained-rate smoothing; a missing
// or zero entry means no rate bound beyond the concurrency semaphore.
func NewProviderLimiter(limits map[string]int64, ratePerSecond map[string]float64, defaultLimit int64) *ProviderLimiter {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	l := &ProviderLimiter{
		sems:         make(map[string]*semaphore.Weighted, len(limits)),
		rates:        make(map[string]*rate.Limiter),
		inFlight:     make(map[string]*atomic.Int64, len(limits)),
		limits:       make(map[string]int64, len(limits)),
		defaultLimit: defaultLimit,
	}
	for provider, n := range limits {
		if n <= 0 {
			n = defaultLimit
		}
		l.sems[provider] = semaphore.NewWeighted(n)
		l.inFlight[provider] = &atomic.Int64{}
		l.limits[provider] = n
	}
	for provider, rps := range ratePerSecond {
		if rps > 0 {
			l.rates[provider] = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
	return l
}

// Acquire blocks until a slot for the provider is available, then reserves
// it. The returned release function must be called exactly once.
func (l *ProviderLimiter) Acquire(ctx context.Context, provider string) (func(), error) {
	sem, count := l.providerState(provider)

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire %s slot: %w", provider, err)
	}

	l.mu.RLock()
	rl := l.rates[provider]
	l.mu.RUnlock()
	if rl != nil {
		if err := rl.Wait(ctx); err != nil {
			sem.Release(1)
			return nil, fmt.Errorf("rate wait %s: %w", provider, err)
		}
	}

	count.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			count.Add(-1)
			sem.Release(1)
		})
	}, nil
}

// InFlight returns the number of currently held slots for a provider.
func (l *ProviderLimiter) InFlight(provider string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.inFlight[provider]; ok {
		return c.Load()
	}
	return 0
}

// Limit returns the concurrency bound configured for a provider.
func (l *ProviderLimiter) Limit(provider string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n, ok := l.limits[provider]; ok {
		return n
	}
	return l.defaultLimit
}

// ProviderStats is a snapshot of one provider's slot usage.
type ProviderStats struct {
	Limit    int64 `json:"limit"`
	InFlight int64 `json:"in_flight"`
}

// Stats returns a per-provider usage snapshot.
func (l *ProviderLimiter) Stats() map[string]ProviderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]ProviderStats, len(l.limits))
	for provider, limit := range l.limits {
		out[provider] = ProviderStats{
			Limit:    limit,
			InFlight: l.inFlight[provider].Load(),
		}
	}
	return out
}

// providerState returns the semaphore and counter for a provider, creating
// them with the default limit on first use.
func (l *ProviderLimiter) providerState(provider string) (*semaphore.Weighted, *atomic.Int64) {
	l.mu.RLock()
	sem, ok := l.sems[provider]
	count := l.inFlight[provider]
	l.mu.RUnlock()
	if ok {
		return sem, count
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if sem, ok = l.sems[provider]; ok {
		return sem, l.inFlight[provider]
	}
	sem = semaphore.NewWeighted(l.defaultLimit)
	count = &atomic.Int64{}
	l.sems[provider] = sem
	l.inFlight[provider] = count
	l.limits[provider] = l.defaultLimit
	return sem, count
}
