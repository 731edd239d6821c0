// Package sink forwards timeline events to external consumers.
//
// A Sink receives every event the timeline logs. Middleware wraps a Sink to redact or
// encrypt events before they leave the process, mirroring how the store never lets
// observability fail the operation being observed: Listener logs delivery errors
// through the timeline instead of returning them to the caller.
package sink

import (
	"context"
	"sync"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/timeline"
)

// Sink publishes a timeline event to an external consumer.
type Sink interface {
	Publish(ctx context.Context, e domain.Event) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, e domain.Event) error

func (f Func) Publish(ctx context.Context, e domain.Event) error { return f(ctx, e) }

// Middleware allows wrapping a Sink to add behavior.
type Middleware func(Sink) Sink

// Chain wraps s so that the first middleware runs first.
func Chain(s Sink, mws ...Middleware) Sink {
	for i := len(mws) - 1; i >= 0; i-- {
		s = mws[i](s)
	}
	return s
}

// Listener adapts a Sink to a timeline listener.
func Listener(s Sink) timeline.Listener {
	return func(ctx context.Context, e domain.Event) error {
		return s.Publish(ctx, e)
	}
}

// Memory is an in-process Sink that keeps every published event.
type Memory struct {
	mu     sync.Mutex
	events []domain.Event
}

// NewMemory creates an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns the published events in order.
func (m *Memory) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	copy(out, m.events)
	return out
}
