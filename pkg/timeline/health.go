package timeline

import (
	"context"
	"fmt"

	"github.com/aretw0/warden/pkg/domain"
)

// HealthLimits are the maximum values each health check tolerates.
type HealthLimits struct {
	ActiveSpans      int `mapstructure:"max_active_spans"`
	PendingApprovals int `mapstructure:"max_pending_approvals"`
	UnresolvedAlerts int `mapstructure:"max_unresolved_alerts"`
}

// DefaultHealthLimits returns 100 active spans, 50 pending approvals and 10 unresolved alerts.
func DefaultHealthLimits() HealthLimits {
	return HealthLimits{ActiveSpans: 100, PendingApprovals: 50, UnresolvedAlerts: 10}
}

// HealthProbes report counters owned by other components.
// A nil probe reports zero.
type HealthProbes struct {
	ActiveSpans      func() int
	PendingApprovals func() int
}

// Health runs the fixed battery of checks.
// Zero failures is healthy, one is degraded, two or more is critical.
func (s *Store) Health(ctx context.Context) domain.SystemHealth {
	checks := []domain.HealthCheck{
		check("active_spans", probe(s.probes.ActiveSpans), s.limits.ActiveSpans),
		check("pending_approvals", probe(s.probes.PendingApprovals), s.limits.PendingApprovals),
		check("unresolved_alerts", s.unresolvedAlerts(), s.limits.UnresolvedAlerts),
	}

	failed := 0
	for _, c := range checks {
		if !c.Passed {
			failed++
		}
	}

	status := domain.HealthHealthy
	switch {
	case failed >= 2:
		status = domain.HealthCritical
	case failed == 1:
		status = domain.HealthDegraded
	}

	if status != domain.HealthHealthy {
		s.logger.WarnContext(ctx, "System health degraded", "status", status, "failed_checks", failed)
	}
	return domain.SystemHealth{Status: status, Checks: checks, CheckedAt: s.clock()}
}

func probe(fn func() int) int {
	if fn == nil {
		return 0
	}
	return fn()
}

func check(name string, value, limit int) domain.HealthCheck {
	c := domain.HealthCheck{Name: name, Value: value, Limit: limit, Passed: value <= limit}
	if c.Passed {
		c.Message = fmt.Sprintf("%s within limit (%d/%d)", name, value, limit)
	} else {
		c.Message = fmt.Sprintf("%s over limit (%d/%d)", name, value, limit)
	}
	return c
}

// Dashboard is an aggregated snapshot of the timeline.
type Dashboard struct {
	Health           domain.SystemHealth            `json:"health"`
	EventsByType     map[domain.EventType]int       `json:"events_by_type"`
	EventsBySeverity map[domain.Severity]int        `json:"events_by_severity"`
	UnresolvedAlerts int                            `json:"unresolved_alerts"`
	LatestMetrics    map[string]domain.MetricSample `json:"latest_metrics"`
	TotalEvents      int                            `json:"total_events"`
	TotalAudit       int                            `json:"total_audit"`
}

// Dashboard aggregates counts over the retained data.
func (s *Store) Dashboard(ctx context.Context) Dashboard {
	d := Dashboard{
		EventsByType:     make(map[domain.EventType]int),
		EventsBySeverity: make(map[domain.Severity]int),
		LatestMetrics:    make(map[string]domain.MetricSample),
	}

	s.mu.RLock()
	s.events.each(func(e domain.Event) bool {
		d.EventsByType[e.Type]++
		d.EventsBySeverity[e.Severity]++
		return true
	})
	s.metrics.each(func(m domain.MetricSample) bool {
		d.LatestMetrics[m.Name] = m
		return true
	})
	d.TotalEvents = s.events.len()
	d.TotalAudit = s.audit.len()
	s.mu.RUnlock()

	d.UnresolvedAlerts = s.unresolvedAlerts()
	d.Health = s.Health(ctx)
	return d
}
