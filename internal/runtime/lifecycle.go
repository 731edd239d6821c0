package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Create allocates a span in pending. The span is reversible iff the binding
// carries a rollback procedure.
func (e *Engine) Create(ctx context.Context, typ domain.SpanType, b domain.Binding, opts ...CreateOption) (string, error) {
	if !typ.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", domain.ErrInvalidSpan, typ)
	}
	if b.Forward == nil {
		return "", fmt.Errorf("%w: forward procedure is required", domain.ErrInvalidSpan)
	}

	now := e.clock()
	s := domain.Span{
		ID:         e.newID(),
		Type:       typ,
		Status:     domain.StatusPending,
		StartedAt:  now,
		Reversible: b.Rollback != nil,
	}
	for _, opt := range opts {
		opt(&s)
	}
	s = s.Clone()

	e.mu.Lock()
	if s.ParentID != "" {
		if _, ok := e.spans[s.ParentID]; !ok {
			e.mu.Unlock()
			return "", fmt.Errorf("parent span %s: %w", s.ParentID, domain.ErrNotFound)
		}
	}
	e.spans[s.ID] = &entry{span: s, binding: b, since: now}
	e.order = append(e.order, s.ID)
	e.mu.Unlock()

	e.record(s.ID, "", domain.StatusPending, "create", now)
	e.emit(ctx, &domain.TransitionEvent{SpanID: s.ID, SpanType: typ, To: domain.StatusPending, At: now})
	e.logger.DebugContext(ctx, "Span created", "span_id", s.ID, "type", typ, "reversible", s.Reversible)
	return s.ID, nil
}

// Simulate predicts the span's effect. It requires pending and leaves the span in
// awaiting_approval, or failed when the simulate procedure errors.
func (e *Engine) Simulate(ctx context.Context, id string) (domain.Diff, error) {
	ctx, span := e.startSpan(ctx, "simulate", id)
	defer span.End()

	snap, err := e.begin(id, func(s domain.Span) error {
		if s.Status != domain.StatusPending {
			return fmt.Errorf("%w: cannot simulate span %s in %s", domain.ErrInvalidState, id, s.Status)
		}
		return nil
	})
	if err != nil {
		fail(span, err)
		return domain.Diff{}, err
	}

	if err := e.advance(ctx, id, domain.StatusSimulating, "simulate"); err != nil {
		e.release(id)
		fail(span, err)
		return domain.Diff{}, err
	}

	var diff domain.Diff
	simErr := guard(ctx, func(ctx context.Context) error {
		if snap.binding.Simulate == nil {
			diff = domain.Diff{Impact: domain.ImpactLow}
			return nil
		}
		var err error
		diff, err = snap.binding.Simulate(ctx)
		return err
	})
	if simErr != nil {
		e.finish(ctx, id, domain.StatusFailed, "simulate_failed", simErr)
		fail(span, simErr)
		return domain.Diff{}, simErr
	}

	if diff.Impact == "" {
		diff.Impact = domain.ImpactOf(diff.Changes)
	}
	diff.Reversible = snap.span.Reversible
	e.finish(ctx, id, domain.StatusAwaitingApproval, "simulated", nil)
	span.SetAttributes(attribute.Int("warden.diff.changes", len(diff.Changes)), attribute.String("warden.diff.impact", string(diff.Impact)))
	return diff, nil
}

// Execute runs the forward procedure. It requires awaiting_approval: a span that
// has not been simulated yet is not ready, and any other status is invalid.
// When a gate is configured it must authorize the span first.
func (e *Engine) Execute(ctx context.Context, id string) (any, error) {
	ctx, span := e.startSpan(ctx, "execute", id)
	defer span.End()

	snap, err := e.begin(id, func(s domain.Span) error {
		switch s.Status {
		case domain.StatusAwaitingApproval:
			return nil
		case domain.StatusPending, domain.StatusSimulating:
			return fmt.Errorf("%w: span %s is %s", domain.ErrNotReady, id, s.Status)
		}
		return fmt.Errorf("%w: cannot execute span %s in %s", domain.ErrInvalidState, id, s.Status)
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}

	if e.gate != nil {
		if err := e.gate.Authorize(ctx, id); err != nil {
			e.release(id)
			e.logger.InfoContext(ctx, "Execution blocked by gate", "span_id", id, "err", err)
			fail(span, err)
			return nil, err
		}
	}

	// A busy resource leaves the span awaiting approval so the caller can retry.
	unlock, err := e.locks.AcquireResource(ctx, target(snap.span.Metadata))
	if err != nil {
		e.release(id)
		e.logger.InfoContext(ctx, "Execution deferred, resource is locked", "span_id", id, "err", err)
		fail(span, err)
		return nil, err
	}
	defer unlock(ctx)

	if err := e.advance(ctx, id, domain.StatusExecuting, "execute"); err != nil {
		e.release(id)
		fail(span, err)
		return nil, err
	}

	var result any
	runErr := guard(ctx, func(ctx context.Context) error {
		var err error
		result, err = snap.binding.Forward(ctx)
		return err
	})
	if runErr != nil {
		e.finish(ctx, id, domain.StatusFailed, "execute_failed", runErr)
		fail(span, runErr)
		return nil, runErr
	}

	e.finish(ctx, id, domain.StatusCompleted, "completed", nil)
	return result, nil
}

// Rollback runs the rollback procedure of a completed, reversible span.
// A failed rollback keeps the span completed so the caller may retry.
func (e *Engine) Rollback(ctx context.Context, id string) error {
	ctx, span := e.startSpan(ctx, "rollback", id)
	defer span.End()

	snap, err := e.begin(id, func(s domain.Span) error {
		if !s.Reversible {
			return fmt.Errorf("span %s: %w", id, domain.ErrNotReversible)
		}
		if s.Status != domain.StatusCompleted {
			return fmt.Errorf("%w: cannot roll back span %s in %s", domain.ErrInvalidState, id, s.Status)
		}
		return nil
	})
	if err != nil {
		fail(span, err)
		return err
	}

	runErr := e.locks.WithResource(ctx, target(snap.span.Metadata), func(ctx context.Context) error {
		return guard(ctx, snap.binding.Rollback)
	})
	if runErr != nil {
		e.release(id)
		actor, _ := domain.ActorFrom(ctx)
		e.recorder.LogEvent(ctx, domain.EventRollbackFailed, source, "rollback failed: "+runErr.Error(), domain.EventOptions{
			SpanID:   id,
			UserID:   actor.ID,
			Severity: domain.SeverityError,
		})
		fail(span, runErr)
		return runErr
	}

	e.finish(ctx, id, domain.StatusRolledBack, "rolled_back", nil)
	return nil
}

// begin checks the span under its lock and marks an operation in flight.
// The returned snapshot carries the immutable binding.
func (e *Engine) begin(id string, check func(domain.Span) error) (entry, error) {
	en, err := e.lookup(id)
	if err != nil {
		return entry{}, err
	}
	var snap entry
	err = e.locks.WithLock(id, func() error {
		if err := check(en.span); err != nil {
			return err
		}
		if en.inFlight {
			return fmt.Errorf("%w: span %s has an operation in flight", domain.ErrInvalidState, id)
		}
		en.inFlight = true
		snap = entry{span: en.span.Clone(), binding: en.binding}
		return nil
	})
	return snap, err
}

// release clears the in-flight flag without a transition.
func (e *Engine) release(id string) {
	if en, err := e.lookup(id); err == nil {
		_ = e.locks.WithLock(id, func() error {
			en.inFlight = false
			return nil
		})
	}
}

// advance moves an in-flight span to an intermediate status.
func (e *Engine) advance(ctx context.Context, id string, to domain.SpanStatus, event string) error {
	ev, err := e.transition(id, to, event, nil, false)
	if err != nil {
		return err
	}
	e.emit(ctx, ev)
	return nil
}

// finish moves an in-flight span to its outcome and clears the in-flight flag.
func (e *Engine) finish(ctx context.Context, id string, to domain.SpanStatus, event string, cause error) {
	ev, err := e.transition(id, to, event, cause, true)
	if err != nil {
		e.logger.ErrorContext(ctx, "Illegal transition", "span_id", id, "to", to, "err", err)
		e.release(id)
		return
	}
	e.emit(ctx, ev)
}

// transition validates and applies a status change under the span's lock, then
// appends the local record. Emission happens after the lock is released.
func (e *Engine) transition(id string, to domain.SpanStatus, event string, cause error, done bool) (*domain.TransitionEvent, error) {
	en, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	var ev *domain.TransitionEvent
	err = e.locks.WithLock(id, func() error {
		from := en.span.Status
		if err := domain.ValidateTransition(from, to); err != nil {
			return err
		}
		now := e.clock()
		en.span.Status = to
		if to == domain.StatusCompleted || to == domain.StatusFailed || to == domain.StatusRolledBack {
			en.span.EndedAt = &now
		}
		if cause != nil {
			en.span.Error = cause.Error()
		}
		if done {
			en.inFlight = false
		}
		ev = &domain.TransitionEvent{
			SpanID:   id,
			SpanType: en.span.Type,
			From:     from,
			To:       to,
			At:       now,
			Elapsed:  now.Sub(en.since),
			Err:      cause,
		}
		en.since = now
		e.record(id, from, to, event, now)
		return nil
	})
	return ev, err
}

func (e *Engine) record(id string, from, to domain.SpanStatus, event string, at time.Time) {
	e.logMu.Lock()
	e.log = append(e.log, domain.TransitionRecord{Seq: e.seq.Add(1), SpanID: id, From: from, To: to, Event: event, At: at})
	e.logMu.Unlock()
}

// emit mirrors a transition to the timeline and the lifecycle hooks.
func (e *Engine) emit(ctx context.Context, ev *domain.TransitionEvent) {
	severity := domain.SeverityInfo
	msg := fmt.Sprintf("span %s: %s", ev.SpanType, ev.To)
	if ev.Err != nil {
		severity = domain.SeverityError
		msg = fmt.Sprintf("%s: %v", msg, ev.Err)
	}
	meta := map[string]any{"span_type": string(ev.SpanType), "to": string(ev.To)}
	if ev.From != "" {
		meta["from"] = string(ev.From)
		meta["elapsed_ms"] = ev.Elapsed.Milliseconds()
	}

	actor, _ := domain.ActorFrom(ctx)
	e.recorder.LogEvent(ctx, domain.EventTypeForStatus(ev.To), source, msg, domain.EventOptions{
		SpanID:   ev.SpanID,
		UserID:   actor.ID,
		Severity: severity,
		Metadata: meta,
	})
	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ctx, ev)
	}
}

func (e *Engine) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "warden.span."+op, trace.WithAttributes(attribute.String("warden.span.id", id)))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// guard runs an external procedure and converts a panic into an error.
func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("procedure panicked: %v", r)
		}
	}()
	if fn == nil {
		return errors.New("procedure is not bound")
	}
	return fn(ctx)
}

// target extracts the lockable resource name from span metadata.
func target(metadata map[string]any) string {
	if v, ok := metadata["target"].(string); ok {
		return v
	}
	return ""
}
