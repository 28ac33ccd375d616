package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleQueryRejectsMalformedBody(t *testing.T) {
	h := &Handlers{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.HandleQuery(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if body.Error == "" {
		t.Error("expected an error message in the body")
	}
}

func TestHandleQueryRejectsEmptyQuery(t *testing.T) {
	h := &Handlers{}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queries", strings.NewReader(`{"query":"   "}`))
	rec := httptest.NewRecorder()
	h.HandleQuery(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a blank query, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if !strings.Contains(body.Error, "query") {
		t.Errorf("expected the error to name the query field, got %q", body.Error)
	}
}

func TestHandleCacheStatsWhenDisabled(t *testing.T) {
	h := &Handlers{}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", http.NoBody)
	rec := httptest.NewRecorder()
	h.HandleCacheStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if enabled, _ := body["enabled"].(bool); enabled {
		t.Error("expected enabled=false without a cache service")
	}
}

func TestHandleGetTraceWithoutStore(t *testing.T) {
	h := &Handlers{}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/traces/abc", http.NoBody)
	rec := httptest.NewRecorder()
	h.HandleGetTrace(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 without a trace store, got %d", rec.Code)
	}
}

func TestHandleHealthReportsBackends(t *testing.T) {
	h := &Handlers{Backends: map[string]bool{"postgres": false, "nats": true, "cache": true}}

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Status   string          `json:"status"`
		Backends map[string]bool `json:"backends"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("expected status ok, got %q", body.Status)
	}
	if !body.Backends["nats"] || body.Backends["postgres"] {
		t.Errorf("backend map not echoed: %v", body.Backends)
	}
}
