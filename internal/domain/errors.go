// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrNoSpecialists indicates routing produced an empty selection.
var ErrNoSpecialists = errors.New("no specialists selected")

// ErrCycle indicates an execution dependency graph contains a cycle.
// Cyclic dependencies are a configuration error, rejected at startup.
var ErrCycle = errors.New("dependency graph contains a cycle")

// OrchestratorError is the only error surfaced to callers of the pipeline.
// Every other failure mode is absorbed into degraded-but-valid output and
// reflected in the trace. It carries the request ID and original query so
// callers can correlate logs and traces.
type OrchestratorError struct {
	RequestID string
	Query     string
	Err       error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestration %s failed: %v", e.RequestID, e.Err)
}

func (e *OrchestratorError) Unwrap() error { return e.Err }

// NewOrchestratorError wraps err with request correlation data.
func NewOrchestratorError(requestID, query string, err error) *OrchestratorError {
	return &OrchestratorError{RequestID: requestID, Query: query, Err: err}
}
