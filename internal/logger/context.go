package logger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

var requestIDKey = ctxKey{}

// WithRequestID binds the request ID to ctx for the duration of one
// orchestration.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID bound to ctx, or "" when none is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextHandler stamps the request ID from the context onto every record,
// so call sites using the *Context slog variants never pass it by hand.
type ContextHandler struct {
	inner slog.Handler
}

// NewContextHandler wraps inner with request-ID stamping.
func NewContextHandler(inner slog.Handler) ContextHandler {
	return ContextHandler{inner: inner}
}

// Enabled delegates to the inner handler.
func (h ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds the request_id attribute when the context carries one.
func (h ContextHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if id := RequestID(ctx); id != "" {
		rec.AddAttrs(slog.String("request_id", id))
	}
	return h.inner.Handle(ctx, rec)
}

func (h ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return ContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h ContextHandler) WithGroup(name string) slog.Handler {
	return ContextHandler{inner: h.inner.WithGroup(name)}
}
