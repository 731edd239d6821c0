package timeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.Timeline = (*timeline.Store)(nil)

// stepClock advances one second per call so timestamps are strictly ordered.
func stepClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newStore(opts ...timeline.Option) *timeline.Store {
	return timeline.New(append([]timeline.Option{timeline.WithClock(stepClock())}, opts...)...)
}

func TestLogEvent_ListenersRunInOrderAndFailuresAreSwallowed(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	var calls []string

	s.On(domain.EventSpanCreated, func(ctx context.Context, e domain.Event) error {
		calls = append(calls, "first")
		return errors.New("listener error")
	})
	s.On(domain.EventSpanCreated, func(ctx context.Context, e domain.Event) error {
		calls = append(calls, "second")
		panic("listener panic")
	})
	s.Subscribe(func(ctx context.Context, e domain.Event) error {
		calls = append(calls, "global:"+string(e.Type))
		return nil
	})
	s.On(domain.EventSpanFailed, func(ctx context.Context, e domain.Event) error {
		calls = append(calls, "unrelated")
		return nil
	})

	id := s.LogEvent(ctx, domain.EventSpanCreated, "engine", "span created", domain.EventOptions{SpanID: "s1"})

	assert.NotEmpty(t, id)
	assert.Equal(t, []string{"first", "second", "global:span_created"}, calls)

	events := s.QueryEvents(timeline.EventFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, domain.SeverityInfo, events[0].Severity, "severity defaults to info")
	assert.Equal(t, "s1", events[0].SpanID)
}

func TestLogEvent_RingEvictsOldest(t *testing.T) {
	s := newStore(timeline.WithEventCapacity(5))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		s.LogEvent(ctx, domain.EventSystem, "test", fmt.Sprintf("event-%d", i), domain.EventOptions{})
	}

	events := s.QueryEvents(timeline.EventFilter{})
	require.Len(t, events, 5)
	assert.Equal(t, "event-7", events[0].Message)
	assert.Equal(t, "event-3", events[4].Message)
	assert.Equal(t, uint64(8), events[0].Seq)
}

func TestQueryEvents_NewestFirstWithFiltersAndPagination(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	s.LogEvent(ctx, domain.EventSpanCreated, "engine", "a", domain.EventOptions{SpanID: "s1", Tags: []string{"demo"}})
	s.LogEvent(ctx, domain.EventPolicyViolation, "governance", "b", domain.EventOptions{SpanID: "s1", Severity: domain.SeverityWarning})
	s.LogEvent(ctx, domain.EventSpanCreated, "engine", "c", domain.EventOptions{SpanID: "s2", UserID: "alice", Tags: []string{"demo", "x"}})
	s.LogEvent(ctx, domain.EventSpanCompleted, "engine", "d", domain.EventOptions{SpanID: "s1"})

	all := s.QueryEvents(timeline.EventFilter{})
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "must be newest first")
	}

	bySpan := s.QueryEvents(timeline.EventFilter{SpanID: "s1"})
	assert.Equal(t, []string{"d", "b", "a"}, messages(bySpan))

	byType := s.QueryEvents(timeline.EventFilter{Types: []domain.EventType{domain.EventSpanCreated}})
	assert.Equal(t, []string{"c", "a"}, messages(byType))

	bySeverity := s.QueryEvents(timeline.EventFilter{Severities: []domain.Severity{domain.SeverityWarning}})
	assert.Equal(t, []string{"b"}, messages(bySeverity))

	bySource := s.QueryEvents(timeline.EventFilter{Sources: []string{"governance"}})
	assert.Equal(t, []string{"b"}, messages(bySource))

	byTags := s.QueryEvents(timeline.EventFilter{Tags: []string{"demo", "x"}})
	assert.Equal(t, []string{"c"}, messages(byTags))

	byUser := s.QueryEvents(timeline.EventFilter{UserID: "alice"})
	assert.Equal(t, []string{"c"}, messages(byUser))

	page := s.QueryEvents(timeline.EventFilter{Offset: 1, Limit: 2})
	assert.Equal(t, []string{"c", "b"}, messages(page))

	assert.Empty(t, s.QueryEvents(timeline.EventFilter{Offset: 10}))

	window := s.QueryEvents(timeline.EventFilter{From: all[2].Timestamp, To: all[1].Timestamp})
	assert.Equal(t, []string{"c", "b"}, messages(window))
}

func messages(events []domain.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Message
	}
	return out
}

func TestRecordMetric_CriticalBreachCreatesAlert(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	s.RecordMetric(ctx, timeline.MetricCPUUsage, 97, "%", "host-1", map[string]string{"host": "h1"})

	alerts := s.Alerts(timeline.AlertFilter{})
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, timeline.AlertThresholdBreach, alerts[0].Type)
	assert.False(t, alerts[0].Resolved)

	created := s.QueryEvents(timeline.EventFilter{Types: []domain.EventType{domain.EventAlertCreated}})
	require.Len(t, created, 1)
	assert.Equal(t, alerts[0].ID, created[0].Metadata["alert_id"])

	require.NoError(t, s.ResolveAlert(ctx, alerts[0].ID, "oncall"))
	first, err := s.Alert(alerts[0].ID)
	require.NoError(t, err)
	require.NotNil(t, first.ResolvedAt)

	require.NoError(t, s.ResolveAlert(ctx, alerts[0].ID, "someone-else"))
	second, err := s.Alert(alerts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "oncall", second.ResolvedBy, "second resolve is a no-op")
	assert.Equal(t, first.ResolvedAt, second.ResolvedAt)

	resolved := s.QueryEvents(timeline.EventFilter{Types: []domain.EventType{domain.EventAlertResolved}})
	assert.Len(t, resolved, 1)

	assert.ErrorIs(t, s.ResolveAlert(ctx, "missing", "oncall"), domain.ErrNotFound)
}

func TestRecordMetric_Thresholds(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	s.RecordMetric(ctx, timeline.MetricMemoryUsage, 79.9, "%", "host", nil)
	s.RecordMetric(ctx, "queue_depth", 1e6, "", "broker", nil)
	assert.Empty(t, s.Alerts(timeline.AlertFilter{}))

	s.RecordMetric(ctx, timeline.MetricMemoryUsage, 80, "%", "host", nil)
	s.RecordMetric(ctx, timeline.MetricLatency, 12000, "ms", "api", nil)

	alerts := s.Alerts(timeline.AlertFilter{})
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, domain.SeverityWarning, alerts[1].Severity)

	crit := s.Alerts(timeline.AlertFilter{Severities: []domain.Severity{domain.SeverityCritical}})
	assert.Len(t, crit, 1)
}

func TestQueryMetrics(t *testing.T) {
	s := newStore(timeline.WithThresholds(nil))
	ctx := context.Background()

	s.RecordMetric(ctx, "latency_ms", 10, "ms", "api", map[string]string{"route": "/a"})
	s.RecordMetric(ctx, "latency_ms", 20, "ms", "api", map[string]string{"route": "/b"})
	s.RecordMetric(ctx, "cpu_usage", 99, "%", "host", nil)

	assert.Empty(t, s.Alerts(timeline.AlertFilter{}), "thresholds disabled")

	latency := s.QueryMetrics(timeline.MetricFilter{Names: []string{"latency_ms"}})
	require.Len(t, latency, 2)
	assert.Equal(t, 20.0, latency[0].Value)

	tagged := s.QueryMetrics(timeline.MetricFilter{Tags: map[string]string{"route": "/a"}})
	require.Len(t, tagged, 1)
	assert.Equal(t, 10.0, tagged[0].Value)

	bySource := s.QueryMetrics(timeline.MetricFilter{Sources: []string{"host"}, Limit: 1})
	require.Len(t, bySource, 1)
	assert.Equal(t, "cpu_usage", bySource[0].Name)
}

func TestLogAudit_BoundedAndFiltered(t *testing.T) {
	s := newStore(timeline.WithAuditCapacity(3))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.LogAudit(ctx, domain.AuditEntry{
			UserID:   "alice",
			Action:   fmt.Sprintf("action-%d", i),
			Resource: "approval/1",
			Outcome:  "success",
		})
	}
	s.LogAudit(ctx, domain.AuditEntry{UserID: "bob", Action: "reject", Resource: "approval/2", Outcome: "denied", IP: "10.0.0.1"})

	records := s.QueryAudit(timeline.AuditFilter{})
	require.Len(t, records, 3)
	assert.Equal(t, "reject", records[0].Action)
	assert.Equal(t, "action-2", records[2].Action)

	bob := s.QueryAudit(timeline.AuditFilter{UserID: "bob"})
	require.Len(t, bob, 1)
	assert.Equal(t, "10.0.0.1", bob[0].IP)

	denied := s.QueryAudit(timeline.AuditFilter{Outcomes: []string{"denied"}, Resources: []string{"approval/2"}})
	assert.Len(t, denied, 1)
}

func TestHealth(t *testing.T) {
	active, pending := 0, 0
	s := newStore(
		timeline.WithHealthLimits(timeline.HealthLimits{ActiveSpans: 2, PendingApprovals: 1, UnresolvedAlerts: 0}),
		timeline.WithHealthProbes(timeline.HealthProbes{
			ActiveSpans:      func() int { return active },
			PendingApprovals: func() int { return pending },
		}),
	)
	ctx := context.Background()

	h := s.Health(ctx)
	assert.Equal(t, domain.HealthHealthy, h.Status)
	require.Len(t, h.Checks, 3)

	active = 3
	assert.Equal(t, domain.HealthDegraded, s.Health(ctx).Status)

	s.CreateAlert(ctx, "manual", domain.SeverityWarning, "disk", "disk filling", "ops")
	assert.Equal(t, domain.HealthCritical, s.Health(ctx).Status)

	active, pending = 0, 0
	alerts := s.Alerts(timeline.AlertFilter{UnresolvedOnly: true})
	require.Len(t, alerts, 1)
	require.NoError(t, s.ResolveAlert(ctx, alerts[0].ID, "ops"))
	assert.Equal(t, domain.HealthHealthy, s.Health(ctx).Status)
}

func TestTraces_OldestFirst(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	a := s.LogEvent(ctx, domain.EventSpanCreated, "cli", "a", domain.EventOptions{})
	b := s.LogEvent(ctx, domain.EventSpanSimulated, "engine", "b", domain.EventOptions{})
	c := s.LogEvent(ctx, domain.EventSpanCompleted, "engine", "c", domain.EventOptions{})

	traceID, err := s.LinkEvents([]string{c, a}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, traceID)

	_, err = s.LinkEvents([]string{b, a}, traceID)
	require.NoError(t, err)

	events, err := s.GetTrace(traceID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, messages(events))

	explicit := s.CreateTrace()
	d := s.LogEvent(ctx, domain.EventSystem, "cli", "d", domain.EventOptions{TraceID: explicit})
	events, err = s.GetTrace(explicit)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, d, events[0].ID)

	_, err = s.LinkEvents([]string{"missing"}, traceID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.LinkEvents([]string{a}, "missing-trace")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetTrace("missing-trace")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTraces_LinkedEventsMatchTraceFilter(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	old := s.CreateTrace()
	a := s.LogEvent(ctx, domain.EventSpanCreated, "cli", "a", domain.EventOptions{TraceID: old})
	b := s.LogEvent(ctx, domain.EventSpanCompleted, "engine", "b", domain.EventOptions{})

	traceID, err := s.LinkEvents([]string{a, b}, "")
	require.NoError(t, err)

	linked, err := s.GetTrace(traceID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, messages(linked))
	// Queries read newest first.
	assert.Equal(t, []string{"b", "a"}, messages(s.QueryEvents(timeline.EventFilter{TraceID: traceID})))

	// a moved out of its only trace, which is gone with it.
	_, err = s.GetTrace(old)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, s.QueryEvents(timeline.EventFilter{TraceID: old}))
}

func TestDashboard(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	s.LogEvent(ctx, domain.EventSpanCreated, "engine", "a", domain.EventOptions{})
	s.LogEvent(ctx, domain.EventSpanCreated, "engine", "b", domain.EventOptions{})
	s.RecordMetric(ctx, timeline.MetricCPUUsage, 50, "%", "host", nil)
	s.RecordMetric(ctx, timeline.MetricCPUUsage, 85, "%", "host", nil)

	d := s.Dashboard(ctx)
	assert.Equal(t, 2, d.EventsByType[domain.EventSpanCreated])
	assert.Equal(t, 1, d.EventsByType[domain.EventAlertCreated])
	assert.Equal(t, 1, d.EventsBySeverity[domain.SeverityWarning])
	assert.Equal(t, 85.0, d.LatestMetrics[timeline.MetricCPUUsage].Value)
	assert.Equal(t, 1, d.UnresolvedAlerts)
	assert.Equal(t, 3, d.TotalEvents)
	assert.Equal(t, domain.HealthHealthy, d.Health.Status)
}

func TestConcurrentAppends(t *testing.T) {
	s := newStore(timeline.WithEventCapacity(10000))
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.LogEvent(ctx, domain.EventSystem, "load", "x", domain.EventOptions{})
				s.RecordMetric(ctx, "ops", 1, "", "load", nil)
			}
		}()
	}
	wg.Wait()

	events, metrics, _ := s.Len()
	assert.Equal(t, 2000, events)
	assert.Equal(t, 2000, metrics)
}
