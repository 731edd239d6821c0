package observability_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/observability"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountTransitionsAndEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	ctx := context.Background()

	m.OnTransition(ctx, &domain.TransitionEvent{SpanType: domain.SpanWrite, To: domain.StatusPending})
	m.OnTransition(ctx, &domain.TransitionEvent{SpanType: domain.SpanWrite, From: domain.StatusExecuting, To: domain.StatusCompleted, Elapsed: 20 * time.Millisecond})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("write", "completed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PhaseTime))

	tl := timeline.New()
	tl.Subscribe(m.OnEvent)
	tl.LogEvent(ctx, domain.EventSpanFailed, "engine", "boom", domain.EventOptions{Severity: domain.SeverityError})
	tl.LogEvent(ctx, domain.EventSpanFailed, "engine", "boom", domain.EventOptions{Severity: domain.SeverityError})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Events.WithLabelValues("span_failed", "error")))
}

type recorded struct {
	name  string
	value float64
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples []recorded
}

func (f *fakeRecorder) RecordMetric(_ context.Context, name string, value float64, _, _ string, _ map[string]string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, recorded{name, value})
	return name
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}

func TestSampler_FeedsThresholdAlerts(t *testing.T) {
	tl := timeline.New()
	s := observability.NewSampler(tl, observability.WithProbes(
		func(context.Context) (float64, error) { return 97, nil },
		func(context.Context) (float64, error) { return 40, nil },
	))

	require.NoError(t, s.Sample(context.Background()))

	alerts := tl.Alerts(timeline.AlertFilter{UnresolvedOnly: true})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Len(t, tl.QueryMetrics(timeline.MetricFilter{Names: []string{"memory_usage"}}), 1)
}

func TestSampler_SkipsFailedProbes(t *testing.T) {
	rec := &fakeRecorder{}
	s := observability.NewSampler(rec, observability.WithProbes(
		func(context.Context) (float64, error) { return 0, errors.New("unsupported") },
		func(context.Context) (float64, error) { return 12.5, nil },
	))

	err := s.Sample(context.Background())
	assert.Error(t, err)
	require.Len(t, rec.samples, 1)
	assert.Equal(t, recorded{"memory_usage", 12.5}, rec.samples[0])
}

func TestSampler_RunStopsOnCancel(t *testing.T) {
	rec := &fakeRecorder{}
	s := observability.NewSampler(rec,
		observability.WithInterval(5*time.Millisecond),
		observability.WithProbes(
			func(context.Context) (float64, error) { return 1, nil },
			func(context.Context) (float64, error) { return 1, nil },
		),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.count() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewTracerProvider_WithoutEndpoint(t *testing.T) {
	tp, err := observability.NewTracerProvider(context.Background(), observability.TracingConfig{})
	require.NoError(t, err)
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))
}
