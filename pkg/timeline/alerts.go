package timeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/warden/pkg/domain"
)

// AlertFilter narrows Alerts. Empty fields match everything.
type AlertFilter struct {
	UnresolvedOnly bool
	Severities     []domain.Severity
	Types          []string
	Offset         int
	Limit          int
}

// CreateAlert records an alert and logs an alert_created event.
func (s *Store) CreateAlert(ctx context.Context, typ string, severity domain.Severity, title, description, source string) string {
	a := domain.Alert{
		ID:          s.newID(),
		Timestamp:   s.clock(),
		Type:        typ,
		Severity:    severity,
		Title:       title,
		Description: description,
		Source:      source,
	}

	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.trimAlerts()
	s.mu.Unlock()

	s.LogEvent(ctx, domain.EventAlertCreated, "timeline", title, domain.EventOptions{
		Severity: severity,
		Metadata: map[string]any{"alert_id": a.ID, "alert_type": typ},
	})
	return a.ID
}

// trimAlerts drops the oldest resolved alert, or the oldest alert, past capacity.
// Callers hold s.mu.
func (s *Store) trimAlerts() {
	for len(s.alerts) > s.alertCap {
		idx := slices.IndexFunc(s.alerts, func(a domain.Alert) bool { return a.Resolved })
		if idx < 0 {
			idx = 0
		}
		s.alerts = slices.Delete(s.alerts, idx, idx+1)
	}
}

// ResolveAlert acknowledges an alert. Resolving a resolved alert is a no-op.
func (s *Store) ResolveAlert(ctx context.Context, alertID, resolvedBy string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.alerts, func(a domain.Alert) bool { return a.ID == alertID })
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	if s.alerts[idx].Resolved {
		s.mu.Unlock()
		return nil
	}
	now := s.clock()
	s.alerts[idx].Resolved = true
	s.alerts[idx].ResolvedBy = resolvedBy
	s.alerts[idx].ResolvedAt = &now
	title := s.alerts[idx].Title
	s.mu.Unlock()

	s.LogEvent(ctx, domain.EventAlertResolved, "timeline", title, domain.EventOptions{
		UserID:   resolvedBy,
		Metadata: map[string]any{"alert_id": alertID},
	})
	return nil
}

// Alert returns a single alert.
func (s *Store) Alert(alertID string) (domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.ID == alertID {
			return cloneAlert(a), nil
		}
	}
	return domain.Alert{}, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
}

// Alerts returns matching alerts newest first.
func (s *Store) Alerts(f AlertFilter) []domain.Alert {
	s.mu.RLock()
	snapshot := slices.Clone(s.alerts)
	s.mu.RUnlock()

	var out []domain.Alert
	for i := len(snapshot) - 1; i >= 0; i-- {
		a := snapshot[i]
		if f.UnresolvedOnly && a.Resolved {
			continue
		}
		if len(f.Severities) > 0 && !slices.Contains(f.Severities, a.Severity) {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, a.Type) {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return paginate(out, f.Offset, f.Limit)
}

func (s *Store) unresolvedAlerts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if !a.Resolved {
			n++
		}
	}
	return n
}

func cloneAlert(a domain.Alert) domain.Alert {
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}
