package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("expected empty ID on a bare context, got %q", got)
	}
}

func TestContextHandlerStampsRequestID(t *testing.T) {
	inner := &captureHandler{}
	log := slog.New(NewContextHandler(inner))

	ctx := WithRequestID(context.Background(), "req-456")
	log.InfoContext(ctx, "specialist call failed")
	log.Info("no context bound")

	if inner.count() != 2 {
		t.Fatalf("expected 2 records, got %d", inner.count())
	}

	idOf := func(rec slog.Record) string {
		var id string
		rec.Attrs(func(a slog.Attr) bool {
			if a.Key == "request_id" {
				id = a.Value.String()
			}
			return true
		})
		return id
	}

	inner.mu.Lock()
	first, second := inner.records[0], inner.records[1]
	inner.mu.Unlock()

	if got := idOf(first); got != "req-456" {
		t.Errorf("expected stamped request_id, got %q", got)
	}
	if got := idOf(second); got != "" {
		t.Errorf("record without a bound ID must stay unstamped, got %q", got)
	}
}
