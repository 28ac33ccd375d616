// Package httpexpert implements the specialist port for plain JSON-over-HTTP
// specialist services.
package httpexpert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Invoker posts the query to a specialist endpoint and reads its answer.
// The wire contract is {"query": ..., "context": {...}} in and
// {"output": ...} out.
type Invoker struct {
	url        string
	httpClient *http.Client
}

// NewInvoker creates an HTTP specialist invoker. The client timeout is a
// backstop; the executor's per-call timeout arrives through the context.
func NewInvoker(url string, timeout time.Duration) *Invoker {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Invoker{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Invoke implements the specialist port.
func (i *Invoker) Invoke(ctx context.Context, query string, reqContext map[string]string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"query":   query,
		"context": reqContext,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("specialist error %d: %s", resp.StatusCode, string(data))
	}

	var result struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if result.Output == "" {
		return "", fmt.Errorf("specialist returned empty output")
	}
	return result.Output, nil
}
