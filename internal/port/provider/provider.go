// Package provider defines the port interfaces for the LLM-backed
// capabilities the pipeline consumes: embedding, classification and synthesis.
package provider

import "context"

// Embedder converts text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Candidate is a specialist presented to the classifier for scoring.
type Candidate struct {
	Name string
	Tags []string
}

// Score is the classifier's relevance judgment for one candidate, in [0, 1].
type Score struct {
	Name  string
	Score float64
}

// Classifier scores routing candidates against a query.
type Classifier interface {
	Classify(ctx context.Context, query string, candidates []Candidate) ([]Score, error)
}

// Synthesizer fuses confidence-annotated specialist outputs into one answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string) (string, error)
}
