package timeline

import (
	"context"
	"fmt"
	"maps"

	"github.com/aretw0/warden/pkg/domain"
)

// Well-known metric names with default thresholds.
const (
	MetricCPUUsage    = "cpu_usage"
	MetricMemoryUsage = "memory_usage"
	MetricLatency     = "latency_ms"
)

// AlertThresholdBreach is the alert type raised by RecordMetric.
const AlertThresholdBreach = "threshold_breach"

// Threshold triggers alerts when a sample reaches Warning or Critical.
// A zero bound is disabled.
type Threshold struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// severity returns the breached severity, or "" when below both bounds.
func (t Threshold) severity(v float64) domain.Severity {
	switch {
	case t.Critical > 0 && v >= t.Critical:
		return domain.SeverityCritical
	case t.Warning > 0 && v >= t.Warning:
		return domain.SeverityWarning
	}
	return ""
}

// DefaultThresholds returns cpu/memory at 80/95 percent and latency at 5000/10000 ms.
func DefaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		MetricCPUUsage:    {Warning: 80, Critical: 95},
		MetricMemoryUsage: {Warning: 80, Critical: 95},
		MetricLatency:     {Warning: 5000, Critical: 10000},
	}
}

// RecordMetric appends a sample and raises an alert when it breaches its threshold.
// Threshold checks are plain comparisons and run on the caller's path.
func (s *Store) RecordMetric(ctx context.Context, name string, value float64, unit, source string, tags map[string]string) string {
	sample := domain.MetricSample{
		ID:        s.newID(),
		Timestamp: s.clock(),
		Name:      name,
		Value:     value,
		Unit:      unit,
		Source:    source,
		Tags:      maps.Clone(tags),
	}

	s.mu.Lock()
	s.metrics.push(sample)
	threshold, watched := s.thresholds[name]
	s.mu.Unlock()

	if !watched {
		return sample.ID
	}
	if sev := threshold.severity(value); sev != "" {
		bound := threshold.Warning
		if sev == domain.SeverityCritical {
			bound = threshold.Critical
		}
		s.CreateAlert(ctx, AlertThresholdBreach, sev,
			fmt.Sprintf("%s %s threshold breached", name, sev),
			fmt.Sprintf("%s reported %s=%.2f%s (threshold %.2f)", source, name, value, unit, bound),
			source,
		)
	}
	return sample.ID
}
