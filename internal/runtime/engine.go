package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/aretw0/warden/pkg/spanlock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// source is the component name used on timeline records.
const source = "engine"

// entry is the engine-private state of a span. Fields are guarded by the span's lock.
type entry struct {
	span     domain.Span
	binding  domain.Binding
	inFlight bool
	since    time.Time
}

// Engine is the span lifecycle state machine.
type Engine struct {
	mu    sync.RWMutex
	spans map[string]*entry
	order []string

	locks    *spanlock.Manager
	gate     ports.ExecutionGate
	recorder ports.Recorder
	hooks    domain.LifecycleHooks
	tracer   trace.Tracer

	seq   atomic.Uint64
	logMu sync.Mutex
	log   []domain.TransitionRecord

	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithGate makes every Execute consult gate before the span enters execution.
func WithGate(gate ports.ExecutionGate) Option {
	return func(e *Engine) { e.gate = gate }
}

// WithRecorder mirrors transitions to the timeline.
func WithRecorder(r ports.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLocks replaces the per-span lock manager, typically to add a distributed locker.
func WithLocks(m *spanlock.Manager) Option {
	return func(e *Engine) { e.locks = m }
}

// WithLifecycleHooks registers transition callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) { e.hooks = hooks }
}

// WithTracer sets the OpenTelemetry tracer. Defaults to a no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger configures a logger for the Engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine with no spans.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		spans:    make(map[string]*entry),
		locks:    spanlock.NewManager(),
		recorder: ports.NopTimeline{},
		tracer:   noop.NewTracerProvider().Tracer("warden"),
		clock:    time.Now,
		newID:    uuid.NewString,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateOption configures a new span.
type CreateOption func(*domain.Span)

// WithParent nests the span under an existing one.
func WithParent(parentID string) CreateOption {
	return func(s *domain.Span) { s.ParentID = parentID }
}

// WithMetadata attaches free-form metadata. A "target" key names the external
// resource guarded by the distributed lock during execution and rollback.
func WithMetadata(m map[string]any) CreateOption {
	return func(s *domain.Span) { s.Metadata = m }
}

// WithArgs attaches the argument payload governance scans for personal data.
func WithArgs(args map[string]any) CreateOption {
	return func(s *domain.Span) { s.Args = args }
}

func (e *Engine) lookup(id string) (*entry, error) {
	e.mu.RLock()
	en, ok := e.spans[id]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("span %s: %w", id, domain.ErrNotFound)
	}
	return en, nil
}

// Get returns a snapshot of a span.
func (e *Engine) Get(id string) (domain.Span, error) {
	en, err := e.lookup(id)
	if err != nil {
		return domain.Span{}, err
	}
	var s domain.Span
	_ = e.locks.WithLock(id, func() error {
		s = en.span.Clone()
		return nil
	})
	return s, nil
}

// List returns snapshots of every span in creation order.
func (e *Engine) List() []domain.Span {
	e.mu.RLock()
	ids := make([]string, len(e.order))
	copy(ids, e.order)
	e.mu.RUnlock()

	out := make([]domain.Span, 0, len(ids))
	for _, id := range ids {
		if s, err := e.Get(id); err == nil {
			out = append(out, s)
		}
	}
	return out
}

// ActiveCount counts spans between creation and a final outcome.
func (e *Engine) ActiveCount() int {
	n := 0
	for _, s := range e.List() {
		if s.Status.Active() {
			n++
		}
	}
	return n
}

// Remove discards a span and its binding. A span with an operation in flight
// cannot be removed.
func (e *Engine) Remove(ctx context.Context, id string) error {
	en, err := e.lookup(id)
	if err != nil {
		return err
	}
	err = e.locks.WithLock(id, func() error {
		if en.inFlight {
			return fmt.Errorf("%w: span %s has an operation in flight", domain.ErrInvalidState, id)
		}
		e.mu.Lock()
		delete(e.spans, id)
		for i, v := range e.order {
			if v == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	actor, _ := domain.ActorFrom(ctx)
	e.recorder.LogEvent(ctx, domain.EventSpanRemoved, source, "span removed", domain.EventOptions{SpanID: id, UserID: actor.ID})
	return nil
}

// History returns the local transition records of one span, oldest first.
func (e *Engine) History(id string) []domain.TransitionRecord {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	var out []domain.TransitionRecord
	for _, r := range e.log {
		if r.SpanID == id {
			out = append(out, r)
		}
	}
	return out
}

// Transitions returns every local transition record, oldest first.
func (e *Engine) Transitions() []domain.TransitionRecord {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	out := make([]domain.TransitionRecord, len(e.log))
	copy(out, e.log)
	return out
}
