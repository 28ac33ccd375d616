package orchestration

// Strategy identifies which routing strategy produced a selection.
type Strategy string

const (
	StrategyEmbedding  Strategy = "embedding_only"
	StrategyClassifier Strategy = "classifier_only"
	StrategyHybrid     Strategy = "hybrid"
)

// Selection is the router's decision for one request. Agents and Scores are
// parallel arrays: same index, same length, always.
type Selection struct {
	Agents      []string  `json:"agents"`
	Scores      []float64 `json:"scores"`
	Strategy    Strategy  `json:"strategy"`
	Explanation string    `json:"explanation"`
}

// Empty reports whether routing selected no agents.
func (s *Selection) Empty() bool { return len(s.Agents) == 0 }

// ScoreFor returns the confidence score paired with the given agent,
// or 0 if the agent is not part of the selection.
func (s *Selection) ScoreFor(agent string) float64 {
	for i, a := range s.Agents {
		if a == agent {
			return s.Scores[i]
		}
	}
	return 0
}

// ScoreMap returns the selection as an agent-to-score map.
func (s *Selection) ScoreMap() map[string]float64 {
	m := make(map[string]float64, len(s.Agents))
	for i, a := range s.Agents {
		m[a] = s.Scores[i]
	}
	return m
}

// ConfidenceLabel buckets a confidence score for synthesis prompts.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.8:
		return "High"
	case score >= 0.5:
		return "Medium"
	default:
		return "Low"
	}
}
