package observability

import (
	"context"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for warden.
type Metrics struct {
	Transitions *prometheus.CounterVec
	PhaseTime   *prometheus.HistogramVec
	Events      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_span_transitions_total",
				Help: "Total number of span status transitions",
			},
			[]string{"span_type", "to"},
		),
		PhaseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_span_phase_seconds",
				Help:    "Time spans spend in each status before leaving it",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"span_type", "status"},
		),
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_timeline_events_total",
				Help: "Total number of timeline events",
			},
			[]string{"type", "severity"},
		),
	}
	reg.MustRegister(m.Transitions, m.PhaseTime, m.Events)
	return m
}

// OnTransition records a span transition. It has the shape of domain.LifecycleHooks.OnTransition.
func (m *Metrics) OnTransition(_ context.Context, e *domain.TransitionEvent) {
	m.Transitions.WithLabelValues(string(e.SpanType), string(e.To)).Inc()
	if e.From != "" {
		m.PhaseTime.WithLabelValues(string(e.SpanType), string(e.From)).Observe(e.Elapsed.Seconds())
	}
}

// OnEvent counts a timeline event. It has the shape of timeline.Listener.
func (m *Metrics) OnEvent(_ context.Context, e domain.Event) error {
	m.Events.WithLabelValues(string(e.Type), string(e.Severity)).Inc()
	return nil
}
