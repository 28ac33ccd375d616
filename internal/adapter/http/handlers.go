package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/calier/moxie/internal/domain"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/resilience"
	"github.com/calier/moxie/internal/service"
)

// TraceReader loads stored orchestration traces. Satisfied by the postgres
// trace store; nil when no durable store is configured.
type TraceReader interface {
	GetByRequestID(ctx context.Context, requestID string) (*orchestration.Trace, error)
}

// Handlers bundles the services the REST surface exposes.
type Handlers struct {
	Orchestrator *service.OrchestratorService
	Router       *service.RouterService
	Cache        *service.SemanticCacheService // nil when caching is disabled
	Limiter      *resilience.ProviderLimiter
	Traces       TraceReader // nil without a durable store
	Stream       http.HandlerFunc
	Backends     map[string]bool // optional backends wired at startup
}

// queryResponse is the blocking query endpoint's reply shape.
type queryResponse struct {
	RequestID    string   `json:"request_id"`
	Response     string   `json:"response"`
	Provenance   []string `json:"provenance,omitempty"`
	QualityScore float64  `json:"quality_score"`
	CacheHit     bool     `json:"cache_hit"`
	LatencyMs    float64  `json:"latency_ms"`
}

// HandleQuery runs one query through the pipeline and blocks for the
// synthesized response.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.Request](w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.Orchestrator.Process(r.Context(), req)
	if err != nil {
		var oerr *domain.OrchestratorError
		if errors.As(err, &oerr) && errors.Is(err, context.Canceled) {
			// Client went away; nothing useful to write.
			return
		}
		writeError(w, http.StatusInternalServerError, "query processing failed")
		return
	}

	out := queryResponse{
		RequestID: resp.Trace.RequestID,
		Response:  resp.Text,
		CacheHit:  resp.Trace.CacheHit,
		LatencyMs: resp.Trace.TotalLatencyMs,
	}
	if resp.Trace.Synthesis != nil {
		out.Provenance = resp.Trace.Synthesis.Provenance
		out.QualityScore = resp.Trace.Synthesis.QualityScore
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleRoutingExplanation returns the last routing decision's explanation.
func (h *Handlers) HandleRoutingExplanation(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"explanation": h.Router.RoutingExplanation(),
	})
}

// HandleCacheStats returns semantic cache counters.
func (h *Handlers) HandleCacheStats(w http.ResponseWriter, _ *http.Request) {
	if h.Cache == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	stats := h.Cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":   true,
		"entries":   stats.Entries,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
	})
}

// HandleLimits returns per-provider rate limiter usage.
func (h *Handlers) HandleLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Limiter.Stats())
}

// HandleGetTrace loads a stored trace by request ID.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	if h.Traces == nil {
		writeError(w, http.StatusNotImplemented, "no durable trace store configured")
		return
	}
	trace, err := h.Traces.GetByRequestID(r.Context(), urlParam(r, "requestID"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trace not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "trace lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, trace)
}

// HandleHealth reports liveness and which optional backends are wired.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if h.Backends != nil {
		body["backends"] = h.Backends
	}
	writeJSON(w, http.StatusOK, body)
}
