package timeline

import (
	"maps"
	"slices"
	"time"

	"github.com/aretw0/warden/pkg/domain"
)

// EventFilter narrows QueryEvents. Empty fields match everything.
type EventFilter struct {
	From       time.Time
	To         time.Time
	Types      []domain.EventType
	Sources    []string
	Severities []domain.Severity
	SpanID     string
	UserID     string
	TraceID    string
	Tags       []string
	Offset     int
	Limit      int
}

// MetricFilter narrows QueryMetrics. Tags must all match.
type MetricFilter struct {
	From    time.Time
	To      time.Time
	Names   []string
	Sources []string
	Tags    map[string]string
	Offset  int
	Limit   int
}

// AuditFilter narrows QueryAudit.
type AuditFilter struct {
	From      time.Time
	To        time.Time
	UserID    string
	Actions   []string
	Resources []string
	Outcomes  []string
	Offset    int
	Limit     int
}

func inRange(ts, from, to time.Time) bool {
	if !from.IsZero() && ts.Before(from) {
		return false
	}
	if !to.IsZero() && ts.After(to) {
		return false
	}
	return true
}

func (f EventFilter) match(e domain.Event) bool {
	return inRange(e.Timestamp, f.From, f.To) &&
		(len(f.Types) == 0 || slices.Contains(f.Types, e.Type)) &&
		(len(f.Sources) == 0 || slices.Contains(f.Sources, e.Source)) &&
		(len(f.Severities) == 0 || slices.Contains(f.Severities, e.Severity)) &&
		(f.SpanID == "" || f.SpanID == e.SpanID) &&
		(f.UserID == "" || f.UserID == e.UserID) &&
		(f.TraceID == "" || f.TraceID == e.TraceID) &&
		e.HasTags(f.Tags)
}

func (f MetricFilter) match(m domain.MetricSample) bool {
	if !inRange(m.Timestamp, f.From, f.To) {
		return false
	}
	if len(f.Names) > 0 && !slices.Contains(f.Names, m.Name) {
		return false
	}
	if len(f.Sources) > 0 && !slices.Contains(f.Sources, m.Source) {
		return false
	}
	for k, v := range f.Tags {
		if m.Tags[k] != v {
			return false
		}
	}
	return true
}

func (f AuditFilter) match(r domain.AuditRecord) bool {
	return inRange(r.Timestamp, f.From, f.To) &&
		(f.UserID == "" || f.UserID == r.UserID) &&
		(len(f.Actions) == 0 || slices.Contains(f.Actions, r.Action)) &&
		(len(f.Resources) == 0 || slices.Contains(f.Resources, r.Resource)) &&
		(len(f.Outcomes) == 0 || slices.Contains(f.Outcomes, r.Outcome))
}

// QueryEvents returns matching events newest first.
func (s *Store) QueryEvents(f EventFilter) []domain.Event {
	s.mu.RLock()
	snapshot := s.events.items()
	s.mu.RUnlock()

	var out []domain.Event
	for i := len(snapshot) - 1; i >= 0; i-- {
		if e := snapshot[i]; f.match(e) {
			out = append(out, cloneEvent(e))
		}
	}
	return paginate(out, f.Offset, f.Limit)
}

// QueryMetrics returns matching samples newest first.
func (s *Store) QueryMetrics(f MetricFilter) []domain.MetricSample {
	s.mu.RLock()
	snapshot := s.metrics.items()
	s.mu.RUnlock()

	var out []domain.MetricSample
	for i := len(snapshot) - 1; i >= 0; i-- {
		if m := snapshot[i]; f.match(m) {
			m.Tags = maps.Clone(m.Tags)
			out = append(out, m)
		}
	}
	return paginate(out, f.Offset, f.Limit)
}

// QueryAudit returns matching audit records newest first.
func (s *Store) QueryAudit(f AuditFilter) []domain.AuditRecord {
	s.mu.RLock()
	snapshot := s.audit.items()
	s.mu.RUnlock()

	var out []domain.AuditRecord
	for i := len(snapshot) - 1; i >= 0; i-- {
		if r := snapshot[i]; f.match(r) {
			r.Details = maps.Clone(r.Details)
			out = append(out, r)
		}
	}
	return paginate(out, f.Offset, f.Limit)
}

// paginate applies offset then limit. A non-positive limit means no limit.
func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneEvent(e domain.Event) domain.Event {
	e.Metadata = maps.Clone(e.Metadata)
	e.Tags = slices.Clone(e.Tags)
	return e
}
