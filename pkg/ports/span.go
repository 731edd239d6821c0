package ports

import (
	"context"

	"github.com/aretw0/warden/pkg/domain"
)

// SpanReader exposes read-only span snapshots.
// Returns domain.ErrNotFound for unknown ids.
type SpanReader interface {
	Get(id string) (domain.Span, error)
}

// ExecutionGate is consulted by the engine before a span enters execution.
// A non-nil error blocks execution and leaves the span unchanged.
type ExecutionGate interface {
	Authorize(ctx context.Context, spanID string) error
}

// ExecutionGateFunc adapts a function to ExecutionGate.
type ExecutionGateFunc func(ctx context.Context, spanID string) error

func (f ExecutionGateFunc) Authorize(ctx context.Context, spanID string) error {
	return f(ctx, spanID)
}
