package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calier/moxie/internal/port/provider"
)

// The Client implements all three provider ports against one proxy.
var (
	_ provider.Embedder    = (*Client)(nil)
	_ provider.Classifier  = (*Client)(nil)
	_ provider.Synthesizer = (*Client)(nil)
)

// Embed implements provider.Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.Embeddings(ctx, text)
}

// Classify implements provider.Classifier: it asks the classifier model to
// score each candidate's relevance to the query and parses the JSON reply.
func (c *Client) Classify(ctx context.Context, query string, candidates []provider.Candidate) ([]provider.Score, error) {
	var b strings.Builder
	b.WriteString("Score how relevant each specialist is to the user query on a 0.0-1.0 scale.\n")
	b.WriteString("Reply with a JSON array of {\"name\": string, \"score\": number} only.\n\n")
	fmt.Fprintf(&b, "Query: %s\n\nSpecialists:\n", query)
	for _, cand := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", cand.Name, strings.Join(cand.Tags, ", "))
	}

	resp, err := c.ChatCompletion(ctx, ChatCompletionRequest{
		Model: c.classifierModel,
		Messages: []ChatMessage{
			{Role: "user", Content: b.String()},
		},
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	scores, err := parseScores(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("classify parse: %w", err)
	}

	// Keep only known candidates; the model occasionally invents names.
	known := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		known[cand.Name] = true
	}
	out := scores[:0]
	for _, s := range scores {
		if !known[s.Name] {
			slog.Debug("classifier returned unknown candidate", "name", s.Name)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Synthesize implements provider.Synthesizer.
func (c *Client) Synthesize(ctx context.Context, prompt string) (string, error) {
	resp, err := c.ChatCompletion(ctx, ChatCompletionRequest{
		Model: c.synthesisModel,
		Messages: []ChatMessage{
			{Role: "user", Content: prompt},
		},
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	return resp.Content, nil
}

// parseScores extracts the score array from LLM output, tolerating
// surrounding prose and markdown fences.
func parseScores(content string) ([]provider.Score, error) {
	jsonStr := extractJSONArray(content)

	var raw []struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal scores: %w", err)
	}

	scores := make([]provider.Score, 0, len(raw))
	for _, r := range raw {
		s := r.Score
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		scores = append(scores, provider.Score{Name: r.Name, Score: s})
	}
	return scores, nil
}

// extractJSONArray returns the first top-level JSON array in the content.
func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}
