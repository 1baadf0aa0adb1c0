// Package trace provides request ID generation and context propagation so
// log lines emitted by different pipeline stages can be correlated back to
// one HTTP request.
package trace

import (
	"context"

	"github.com/google/uuid"
)

// requestKey is the unexported context key carrying the request ID.
type requestKey struct{}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

// WithRequestID returns a child context carrying the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// RequestID extracts the request ID from ctx, returning "" when absent.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestKey{}).(string); ok {
		return v
	}
	return ""
}
