// Package orchestration defines the request-scoped entities of the MoE
// pipeline: agent results, routing selections, synthesized responses and
// the per-request trace.
package orchestration

// Status represents the outcome of a single specialist invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// AgentResult is the outcome of one specialist call within a request.
// It is created once per invocation and never mutated afterwards.
type AgentResult struct {
	Agent     string  `json:"agent"`
	Output    string  `json:"output,omitempty"`
	Status    Status  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

// Succeeded reports whether the invocation produced usable output.
func (r *AgentResult) Succeeded() bool { return r.Status == StatusSuccess }

// SuccessCount returns the number of successful results.
func SuccessCount(results []AgentResult) int {
	n := 0
	for i := range results {
		if results[i].Succeeded() {
			n++
		}
	}
	return n
}
