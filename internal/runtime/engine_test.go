package runtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/warden/internal/runtime"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/aretw0/warden/pkg/spanlock"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ ports.SpanReader = (*runtime.Engine)(nil)

func okBinding() domain.Binding {
	return domain.Binding{
		Forward: func(context.Context) (any, error) { return "done", nil },
	}
}

func reversibleBinding(rolledBack *atomic.Int32) domain.Binding {
	b := okBinding()
	b.Rollback = func(context.Context) error {
		rolledBack.Add(1)
		return nil
	}
	return b
}

func simulated(t *testing.T, e *runtime.Engine, typ domain.SpanType, b domain.Binding) string {
	t.Helper()
	ctx := context.Background()
	id, err := e.Create(ctx, typ, b)
	require.NoError(t, err)
	_, err = e.Simulate(ctx, id)
	require.NoError(t, err)
	return id
}

func TestEngine_HappyPath(t *testing.T) {
	tl := timeline.New()
	e := runtime.NewEngine(runtime.WithRecorder(tl))
	ctx := context.Background()

	var rolledBack atomic.Int32
	id, err := e.Create(ctx, domain.SpanWrite, reversibleBinding(&rolledBack), runtime.WithMetadata(map[string]any{"target": "db"}))
	require.NoError(t, err)

	s, err := e.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, s.Status)
	assert.True(t, s.Reversible)
	assert.Nil(t, s.EndedAt)

	diff, err := e.Simulate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ImpactLow, diff.Impact)
	assert.True(t, diff.Reversible)

	s, _ = e.Get(id)
	assert.Equal(t, domain.StatusAwaitingApproval, s.Status)

	res, err := e.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "done", res)

	s, _ = e.Get(id)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	require.NotNil(t, s.EndedAt)

	require.NoError(t, e.Rollback(ctx, id))
	assert.Equal(t, int32(1), rolledBack.Load())
	s, _ = e.Get(id)
	assert.Equal(t, domain.StatusRolledBack, s.Status)

	var events []string
	for _, r := range e.History(id) {
		events = append(events, r.Event)
	}
	assert.Equal(t, []string{"create", "simulate", "simulated", "execute", "completed", "rolled_back"}, events)

	mirrored := tl.QueryEvents(timeline.EventFilter{SpanID: id})
	require.Len(t, mirrored, 6)
	assert.Equal(t, domain.EventSpanRolledBack, mirrored[0].Type)
	assert.Equal(t, domain.EventSpanCreated, mirrored[5].Type)
}

func TestEngine_SimulateReturnsDiff(t *testing.T) {
	e := runtime.NewEngine()
	b := okBinding()
	b.Simulate = func(context.Context) (domain.Diff, error) {
		return domain.Diff{Changes: domain.DiffMaps(map[string]any{"a": 1}, map[string]any{"a": 2})}, nil
	}
	id, err := e.Create(context.Background(), domain.SpanWrite, b)
	require.NoError(t, err)

	diff, err := e.Simulate(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, domain.ChangeUpdate, diff.Changes[0].Kind)
	assert.Equal(t, domain.ImpactMedium, diff.Impact)
	assert.False(t, diff.Reversible)
}

func TestEngine_SimulateFailureFailsSpan(t *testing.T) {
	e := runtime.NewEngine()
	boom := errors.New("cannot predict")
	b := okBinding()
	b.Simulate = func(context.Context) (domain.Diff, error) { return domain.Diff{}, boom }
	id, err := e.Create(context.Background(), domain.SpanIO, b)
	require.NoError(t, err)

	_, err = e.Simulate(context.Background(), id)
	assert.ErrorIs(t, err, boom)

	s, _ := e.Get(id)
	assert.Equal(t, domain.StatusFailed, s.Status)
	assert.Equal(t, "cannot predict", s.Error)
	assert.NotNil(t, s.EndedAt)

	_, err = e.Execute(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_ExecuteRequiresSimulation(t *testing.T) {
	e := runtime.NewEngine()
	ctx := context.Background()
	id, err := e.Create(ctx, domain.SpanRead, okBinding())
	require.NoError(t, err)

	_, err = e.Execute(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotReady)

	_, err = e.Simulate(ctx, id)
	require.NoError(t, err)
	_, err = e.Simulate(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.Execute(ctx, id)
	require.NoError(t, err)
	_, err = e.Execute(ctx, id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = e.Execute(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_ExecuteFailure(t *testing.T) {
	e := runtime.NewEngine()
	boom := errors.New("disk full")
	id := simulated(t, e, domain.SpanIO, domain.Binding{
		Forward:  func(context.Context) (any, error) { return nil, boom },
		Rollback: func(context.Context) error { return nil },
	})

	_, err := e.Execute(context.Background(), id)
	assert.ErrorIs(t, err, boom)

	s, _ := e.Get(id)
	assert.Equal(t, domain.StatusFailed, s.Status)
	require.NotNil(t, s.EndedAt)

	err = e.Rollback(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEngine_ForwardPanicBecomesFailure(t *testing.T) {
	e := runtime.NewEngine()
	id := simulated(t, e, domain.SpanComputation, domain.Binding{
		Forward: func(context.Context) (any, error) { panic("bad input") },
	})

	_, err := e.Execute(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")

	s, _ := e.Get(id)
	assert.Equal(t, domain.StatusFailed, s.Status)
}

func TestEngine_RollbackRules(t *testing.T) {
	e := runtime.NewEngine()
	ctx := context.Background()

	irreversible := simulated(t, e, domain.SpanWrite, okBinding())
	_, err := e.Execute(ctx, irreversible)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Rollback(ctx, irreversible), domain.ErrNotReversible)

	var n atomic.Int32
	notYet, err := e.Create(ctx, domain.SpanWrite, reversibleBinding(&n))
	require.NoError(t, err)
	assert.ErrorIs(t, e.Rollback(ctx, notYet), domain.ErrInvalidState)

	pendingIrreversible, err := e.Create(ctx, domain.SpanWrite, okBinding())
	require.NoError(t, err)
	assert.ErrorIs(t, e.Rollback(ctx, pendingIrreversible), domain.ErrNotReversible)
}

func TestEngine_FailedRollbackKeepsCompleted(t *testing.T) {
	tl := timeline.New()
	e := runtime.NewEngine(runtime.WithRecorder(tl))
	ctx := context.Background()

	attempts := 0
	id := simulated(t, e, domain.SpanWrite, domain.Binding{
		Forward: func(context.Context) (any, error) { return nil, nil },
		Rollback: func(context.Context) error {
			attempts++
			if attempts == 1 {
				return errors.New("locked")
			}
			return nil
		},
	})
	_, err := e.Execute(ctx, id)
	require.NoError(t, err)

	require.Error(t, e.Rollback(ctx, id))
	s, _ := e.Get(id)
	assert.Equal(t, domain.StatusCompleted, s.Status)
	assert.Len(t, tl.QueryEvents(timeline.EventFilter{Types: []domain.EventType{domain.EventRollbackFailed}}), 1)

	require.NoError(t, e.Rollback(ctx, id))
	s, _ = e.Get(id)
	assert.Equal(t, domain.StatusRolledBack, s.Status)
}

func TestEngine_ConcurrentExecuteSucceedsOnce(t *testing.T) {
	e := runtime.NewEngine()
	release := make(chan struct{})
	var calls atomic.Int32
	id := simulated(t, e, domain.SpanWrite, domain.Binding{
		Forward: func(context.Context) (any, error) {
			calls.Add(1)
			<-release
			return nil, nil
		},
	})

	const n = 10
	var wg sync.WaitGroup
	var ok, invalid atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Execute(context.Background(), id)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInvalidState):
				invalid.Add(1)
			}
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 && invalid.Load() == n-1 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestEngine_SlowProcedureDoesNotBlockOtherSpans(t *testing.T) {
	e := runtime.NewEngine()
	release := make(chan struct{})
	slow := simulated(t, e, domain.SpanWrite, domain.Binding{
		Forward: func(context.Context) (any, error) {
			<-release
			return nil, nil
		},
	})
	fast := simulated(t, e, domain.SpanRead, okBinding())

	done := make(chan struct{})
	go func() {
		_, _ = e.Execute(context.Background(), slow)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, _ := e.Get(slow)
		return s.Status == domain.StatusExecuting
	}, time.Second, 5*time.Millisecond)

	_, err := e.Execute(context.Background(), fast)
	require.NoError(t, err)
	assert.Equal(t, 1, e.ActiveCount())
	assert.ErrorIs(t, e.Remove(context.Background(), slow), domain.ErrInvalidState)

	close(release)
	<-done
	assert.Equal(t, 0, e.ActiveCount())
}

func TestEngine_GateBlocksExecution(t *testing.T) {
	allowed := map[string]bool{}
	gate := ports.ExecutionGateFunc(func(_ context.Context, id string) error {
		if !allowed[id] {
			return domain.ErrNotAuthorized
		}
		return nil
	})
	e := runtime.NewEngine(runtime.WithGate(gate))
	id := simulated(t, e, domain.SpanWrite, okBinding())

	_, err := e.Execute(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
	s, _ := e.Get(id)
	assert.Equal(t, domain.StatusAwaitingApproval, s.Status, "a blocked span is unchanged")

	allowed[id] = true
	_, err = e.Execute(context.Background(), id)
	require.NoError(t, err)
}

// busyLocker refuses the first failures lock attempts.
type busyLocker struct {
	failures atomic.Int32
}

func (b *busyLocker) Lock(context.Context, string, time.Duration) (ports.UnlockFunc, error) {
	if b.failures.Add(-1) >= 0 {
		return nil, errors.New("lock held elsewhere")
	}
	return func(context.Context) error { return nil }, nil
}

func TestEngine_BusyResourceKeepsSpanAwaitingApproval(t *testing.T) {
	locker := &busyLocker{}
	locker.failures.Store(1)
	e := runtime.NewEngine(runtime.WithLocks(spanlock.NewManager(spanlock.WithLocker(locker))))
	ctx := context.Background()

	var ran atomic.Int32
	id, err := e.Create(ctx, domain.SpanWrite, domain.Binding{
		Forward: func(context.Context) (any, error) { ran.Add(1); return "done", nil },
	}, runtime.WithMetadata(map[string]any{"target": "orders-db"}))
	require.NoError(t, err)
	_, err = e.Simulate(ctx, id)
	require.NoError(t, err)

	_, err = e.Execute(ctx, id)
	require.ErrorIs(t, err, spanlock.ErrLockUnavailable)
	s, _ := e.Get(id)
	assert.Equal(t, domain.StatusAwaitingApproval, s.Status)
	assert.Zero(t, ran.Load())

	result, err := e.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	s, _ = e.Get(id)
	assert.Equal(t, domain.StatusCompleted, s.Status)
}

func TestEngine_CreateValidation(t *testing.T) {
	e := runtime.NewEngine()
	ctx := context.Background()

	_, err := e.Create(ctx, "teleport", okBinding())
	assert.ErrorIs(t, err, domain.ErrInvalidSpan)
	_, err = e.Create(ctx, domain.SpanRead, domain.Binding{})
	assert.ErrorIs(t, err, domain.ErrInvalidSpan)
	_, err = e.Create(ctx, domain.SpanRead, okBinding(), runtime.WithParent("missing"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	parent, err := e.Create(ctx, domain.SpanNavigation, okBinding())
	require.NoError(t, err)
	args := map[string]any{"q": "x"}
	child, err := e.Create(ctx, domain.SpanRead, okBinding(), runtime.WithParent(parent), runtime.WithArgs(args))
	require.NoError(t, err)
	args["q"] = "mutated"

	s, err := e.Get(child)
	require.NoError(t, err)
	assert.Equal(t, parent, s.ParentID)
	assert.Equal(t, "x", s.Args["q"])

	list := e.List()
	require.Len(t, list, 2)
	assert.Equal(t, parent, list[0].ID)

	require.NoError(t, e.Remove(ctx, parent))
	_, err = e.Get(parent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, e.List(), 1)
}

func TestEngine_TransitionsAreTotallyOrdered(t *testing.T) {
	e := runtime.NewEngine()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := e.Create(context.Background(), domain.SpanComputation, okBinding())
			if !assert.NoError(t, err) {
				return
			}
			_, _ = e.Simulate(context.Background(), id)
			_, _ = e.Execute(context.Background(), id)
		}()
	}
	wg.Wait()

	records := e.Transitions()
	require.Len(t, records, 20*5)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].Seq, records[i].Seq)
	}
}

func TestEngine_HooksAndTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var mu sync.Mutex
	var seen []domain.SpanStatus
	hooks := domain.LifecycleHooks{
		OnTransition: func(_ context.Context, ev *domain.TransitionEvent) {
			mu.Lock()
			seen = append(seen, ev.To)
			mu.Unlock()
		},
	}
	e := runtime.NewEngine(runtime.WithLifecycleHooks(hooks), runtime.WithTracer(tp.Tracer("test")))
	id := simulated(t, e, domain.SpanRead, okBinding())
	_, err := e.Execute(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, []domain.SpanStatus{
		domain.StatusPending, domain.StatusSimulating, domain.StatusAwaitingApproval,
		domain.StatusExecuting, domain.StatusCompleted,
	}, seen)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "warden.span.simulate", ended[0].Name())
	assert.Equal(t, "warden.span.execute", ended[1].Name())
}
