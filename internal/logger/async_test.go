package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// captureHandler collects records for assertions.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *captureHandler) last() slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.records[len(h.records)-1]
}

func record(msg string) slog.Record {
	return slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
}

func TestAsyncHandlerDeliversQueuedRecords(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 64, 1)

	const total = 20
	for range total {
		if err := ah.Handle(context.Background(), record("queued")); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records after close, got %d", total, got)
	}
}

func TestAsyncHandlerAppliesSizingDefaults(t *testing.T) {
	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, 0, 0)

	if got := cap(ah.queue); got != defaultQueueSize {
		t.Errorf("expected default queue size %d, got %d", defaultQueueSize, got)
	}
	if err := ah.Handle(context.Background(), record("default-sized")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	ah.Close()

	if inner.count() != 1 {
		t.Fatal("default-sized handler must still deliver records")
	}
}

func TestAsyncHandlerFullQueueDropsAndReportsOnClose(t *testing.T) {
	inner := &captureHandler{delay: 10 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 50 {
		_ = ah.Handle(context.Background(), record("flood"))
	}
	ah.Close()

	dropped := ah.DroppedCount()
	if dropped == 0 {
		t.Fatal("expected drops with a single-slot queue under flood")
	}
	summary := inner.last()
	if summary.Message != "async logger dropped records" {
		t.Errorf("expected a drop summary as the final record, got %q", summary.Message)
	}
	var reported int64
	summary.Attrs(func(a slog.Attr) bool {
		if a.Key == "dropped" {
			reported = a.Value.Int64()
		}
		return true
	})
	if reported != dropped {
		t.Errorf("summary reports %d drops, counter says %d", reported, dropped)
	}
}

func TestAsyncHandlerConcurrentWrites(t *testing.T) {
	const goroutines = 50
	const perGoroutine = 40
	total := goroutines * perGoroutine

	inner := &captureHandler{}
	ah := NewAsyncHandler(inner, total, 4)

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perGoroutine {
				_ = ah.Handle(context.Background(), record("concurrent"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records, got %d", total, got)
	}
}
