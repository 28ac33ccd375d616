package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calier/moxie/internal/domain"
	"github.com/calier/moxie/internal/domain/orchestration"
)

// TraceStore persists orchestration traces (append-only) and serves the
// trace-by-request-ID debug lookup.
type TraceStore struct {
	pool *pgxpool.Pool
}

// NewTraceStore creates a TraceStore backed by the given connection pool.
func NewTraceStore(pool *pgxpool.Pool) *TraceStore {
	return &TraceStore{pool: pool}
}

// Emit inserts one trace row. Implements the tracesink port.
func (s *TraceStore) Emit(ctx context.Context, trace *orchestration.Trace) error {
	agents, err := json.Marshal(trace.SelectedAgents)
	if err != nil {
		return fmt.Errorf("marshal selected agents: %w", err)
	}
	results, err := json.Marshal(trace.AgentResults)
	if err != nil {
		return fmt.Errorf("marshal agent results: %w", err)
	}
	var synthesis []byte
	if trace.Synthesis != nil {
		synthesis, err = json.Marshal(trace.Synthesis)
		if err != nil {
			return fmt.Errorf("marshal synthesis: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO orchestration_traces
		 (request_id, session_id, query, strategy, selected_agents, agent_results, synthesis, cache_hit, voice_mode, total_latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		trace.RequestID, trace.SessionID, trace.Query, string(trace.Strategy),
		agents, results, synthesis, trace.CacheHit, trace.VoiceMode,
		trace.TotalLatencyMs, trace.Timestamp)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// GetByRequestID returns the stored trace for a request.
func (s *TraceStore) GetByRequestID(ctx context.Context, requestID string) (*orchestration.Trace, error) {
	var (
		t         orchestration.Trace
		strategy  string
		agents    []byte
		results   []byte
		synthesis []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT request_id, session_id, query, strategy, selected_agents, agent_results, synthesis, cache_hit, voice_mode, total_latency_ms, created_at
		 FROM orchestration_traces WHERE request_id = $1`, requestID).
		Scan(&t.RequestID, &t.SessionID, &t.Query, &strategy, &agents, &results,
			&synthesis, &t.CacheHit, &t.VoiceMode, &t.TotalLatencyMs, &t.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get trace %s: %w", requestID, err)
	}

	t.Strategy = orchestration.Strategy(strategy)
	if err := json.Unmarshal(agents, &t.SelectedAgents); err != nil {
		return nil, fmt.Errorf("unmarshal selected agents: %w", err)
	}
	if err := json.Unmarshal(results, &t.AgentResults); err != nil {
		return nil, fmt.Errorf("unmarshal agent results: %w", err)
	}
	if len(synthesis) > 0 {
		t.Synthesis = &orchestration.SynthesizedResponse{}
		if err := json.Unmarshal(synthesis, t.Synthesis); err != nil {
			return nil, fmt.Errorf("unmarshal synthesis: %w", err)
		}
	}
	return &t, nil
}
