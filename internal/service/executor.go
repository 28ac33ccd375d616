package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calier/moxie/internal/adapter/otel"
	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain/expert"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/port/specialist"
	"github.com/calier/moxie/internal/resilience"
)

// depOutputPrefix keys prerequisite outputs injected into a dependent
// specialist's request context.
const depOutputPrefix = "dep_output:"

// ExecutorService fans a query out to selected specialists. One failed or
// slow specialist never takes down the others: each call runs in its own
// goroutine with its own timeout and errors are absorbed into per-agent
// result records.
type ExecutorService struct {
	registry *expert.Registry
	invokers map[string]specialist.Invoker
	limiter  *resilience.ProviderLimiter
	cfg      *config.Executor

	mu   sync.RWMutex
	deps orchestration.Dependencies
}

// NewExecutorService creates an ExecutorService. invokers is keyed by
// specialist name.
func NewExecutorService(registry *expert.Registry, invokers map[string]specialist.Invoker, limiter *resilience.ProviderLimiter, cfg *config.Executor) *ExecutorService {
	return &ExecutorService{
		registry: registry,
		invokers: invokers,
		limiter:  limiter,
		cfg:      cfg,
	}
}

// SetDependencies installs the specialist dependency graph. A cyclic graph
// is a configuration error and is rejected outright.
func (s *ExecutorService) SetDependencies(deps orchestration.Dependencies) error {
	if err := deps.Validate(); err != nil {
		return fmt.Errorf("dependency graph: %w", err)
	}
	s.mu.Lock()
	s.deps = deps
	s.mu.Unlock()
	return nil
}

// RunParallel invokes every agent and returns one result per agent in the
// input order regardless of completion order. When a dependency graph is
// set, agents run level by level and each dependent receives its
// prerequisites' successful outputs in the request context. A zero timeout
// uses the configured overall timeout.
func (s *ExecutorService) RunParallel(ctx context.Context, agents []string, query string, reqContext map[string]string, timeout time.Duration) []orchestration.AgentResult {
	if len(agents) == 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = s.cfg.OverallTimeout
	}
	deadline := time.Now().Add(timeout)

	s.mu.RLock()
	deps := s.deps
	s.mu.RUnlock()

	levels := deps.Levels(agents)
	if len(levels) == 1 {
		return s.runLevel(ctx, levels[0], query, reqContext, deadline)
	}

	// Staged execution: successful outputs of earlier levels feed later
	// ones through the request context.
	byAgent := make(map[string]orchestration.AgentResult, len(agents))
	enriched := cloneContext(reqContext)
	for _, level := range levels {
		results := s.runLevel(ctx, level, query, enriched, deadline)
		for _, res := range results {
			byAgent[res.Agent] = res
			if res.Succeeded() {
				enriched[depOutputPrefix+res.Agent] = res.Output
			}
		}
	}

	ordered := make([]orchestration.AgentResult, 0, len(agents))
	for _, name := range agents {
		ordered = append(ordered, byAgent[name])
	}
	return ordered
}

// StreamResult pairs an agent name with its completed result on the
// streaming path.
type StreamResult struct {
	Agent  string
	Result orchestration.AgentResult
}

// RunStream invokes every agent and yields results in completion order as
// they finish. The channel is closed once all agents have reported; the
// caller owns pacing via ctx.
func (s *ExecutorService) RunStream(ctx context.Context, agents []string, query string, reqContext map[string]string) <-chan StreamResult {
	out := make(chan StreamResult, len(agents))

	var wg sync.WaitGroup
	for _, name := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			out <- StreamResult{Agent: agent, Result: s.invokeOne(ctx, agent, query, reqContext)}
		}(name)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// runLevel fans one level out and collects results in the level's input
// order. Agents that miss the overall deadline are recorded as timeouts;
// their goroutines finish into the buffered channel and are discarded.
func (s *ExecutorService) runLevel(ctx context.Context, agents []string, query string, reqContext map[string]string, deadline time.Time) []orchestration.AgentResult {
	type indexed struct {
		i   int
		res orchestration.AgentResult
	}
	ch := make(chan indexed, len(agents))
	for i, name := range agents {
		go func(i int, agent string) {
			ch <- indexed{i: i, res: s.invokeOne(ctx, agent, query, reqContext)}
		}(i, name)
	}

	results := make([]orchestration.AgentResult, len(agents))
	seen := make([]bool, len(agents))
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	received := 0
	for received < len(agents) {
		select {
		case r := <-ch:
			results[r.i] = r.res
			seen[r.i] = true
			received++
		case <-timer.C:
			for i := range results {
				if !seen[i] {
					results[i] = orchestration.AgentResult{
						Agent:  agents[i],
						Status: orchestration.StatusTimeout,
						Error:  "overall execution deadline exceeded",
					}
				}
			}
			return results
		}
	}
	return results
}

// invokeOne runs a single specialist call under the per-call timeout and a
// provider concurrency slot, converting any failure into a result record.
func (s *ExecutorService) invokeOne(ctx context.Context, agent, query string, reqContext map[string]string) orchestration.AgentResult {
	start := time.Now()
	result := orchestration.AgentResult{Agent: agent}

	spec, ok := s.registry.Get(agent)
	if !ok {
		result.Status = orchestration.StatusError
		result.Error = fmt.Sprintf("unknown specialist: %s", agent)
		return result
	}
	invoker, ok := s.invokers[agent]
	if !ok {
		result.Status = orchestration.StatusError
		result.Error = "no invoker bound for specialist"
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	callCtx, span := otel.StartAgentSpan(callCtx, agent, spec.Provider)
	defer span.End()

	release, err := s.limiter.Acquire(callCtx, spec.Provider)
	if err != nil {
		result.Status = statusFor(err)
		result.Error = fmt.Sprintf("acquire %s slot: %v", spec.Provider, err)
		result.LatencyMs = latencyMs(start)
		return result
	}
	defer release()

	output, err := invoker.Invoke(callCtx, query, reqContext)
	result.LatencyMs = latencyMs(start)
	if err != nil {
		result.Status = statusFor(err)
		result.Error = err.Error()
		slog.WarnContext(ctx, "specialist call failed",
			"agent", agent, "provider", spec.Provider,
			"status", result.Status, "latency_ms", result.LatencyMs, "error", err)
		return result
	}

	result.Status = orchestration.StatusSuccess
	result.Output = output
	slog.DebugContext(ctx, "specialist call completed", "agent", agent, "latency_ms", result.LatencyMs)
	return result
}

func latencyMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// statusFor maps deadline errors to timeout status, everything else to error.
func statusFor(err error) orchestration.Status {
	if errors.Is(err, context.DeadlineExceeded) {
		return orchestration.StatusTimeout
	}
	return orchestration.StatusError
}

// cloneContext copies a request context map so staged enrichment never
// mutates the caller's map.
func cloneContext(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}
