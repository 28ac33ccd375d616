// Package specialist defines the port interface for invoking an external
// specialist capability.
package specialist

import "context"

// Invoker calls a specialist with a query and request context and returns
// its free-text output. Implementations must honor ctx cancellation; the
// executor applies per-call timeouts through the context.
type Invoker interface {
	Invoke(ctx context.Context, query string, reqContext map[string]string) (string, error)
}

// Func adapts a plain function to the Invoker interface.
type Func func(ctx context.Context, query string, reqContext map[string]string) (string, error)

// Invoke implements Invoker.
func (f Func) Invoke(ctx context.Context, query string, reqContext map[string]string) (string, error) {
	return f(ctx, query, reqContext)
}
