// Package tracesink defines the port for emitting orchestration traces to
// external observability collectors.
package tracesink

import (
	"context"
	"log/slog"

	"github.com/calier/moxie/internal/domain/orchestration"
)

// Sink receives one trace per orchestration request. Emission is
// fire-and-forget relative to the response path: the orchestrator calls
// sinks from a detached goroutine and an error only produces a log line.
type Sink interface {
	Emit(ctx context.Context, trace *orchestration.Trace) error
}

// Multi fans one trace out to several sinks. A failing sink never blocks
// the others.
type Multi []Sink

// Emit delivers the trace to every sink, logging failures.
func (m Multi) Emit(ctx context.Context, trace *orchestration.Trace) error {
	for _, s := range m {
		if err := s.Emit(ctx, trace); err != nil {
			slog.Warn("trace sink emit failed", "request_id", trace.RequestID, "error", err)
		}
	}
	return nil
}
