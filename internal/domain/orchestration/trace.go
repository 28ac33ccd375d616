package orchestration

import "time"

// Conflict records two or more specialist outputs that contradict each other
// on the same factual slot.
type Conflict struct {
	Agents      []string `json:"agents"`
	Description string   `json:"description"`
}

// SynthesizedResponse is the aggregator's fused answer.
type SynthesizedResponse struct {
	Content      string     `json:"content"`
	Provenance   []string   `json:"provenance"`
	QualityScore float64    `json:"quality_score"`
	Conflicts    []Conflict `json:"conflicts,omitempty"`
}

// Trace is the full record of one orchestration request. It is built up
// during the request, frozen once the response is returned, and emitted to
// the configured trace sinks.
type Trace struct {
	RequestID        string               `json:"request_id"`
	Query            string               `json:"query"`
	SessionID        string               `json:"session_id,omitempty"`
	Timestamp        time.Time            `json:"timestamp"`
	SelectedAgents   []string             `json:"selected_agents"`
	ConfidenceScores []float64            `json:"confidence_scores"`
	Strategy         Strategy             `json:"strategy,omitempty"`
	AgentResults     []AgentResult        `json:"agent_results"`
	Synthesis        *SynthesizedResponse `json:"synthesis,omitempty"`
	TotalLatencyMs   float64              `json:"total_latency_ms"`
	CacheHit         bool                 `json:"cache_hit"`
	VoiceMode        bool                 `json:"voice_mode"`
}
