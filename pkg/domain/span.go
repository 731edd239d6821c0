package domain

import (
	"context"
	"maps"
	"time"
)

// SpanType is the closed set of operation kinds a span can represent.
type SpanType string

const (
	SpanNavigation    SpanType = "navigation"
	SpanRead          SpanType = "read"
	SpanWrite         SpanType = "write"
	SpanGUIAutomation SpanType = "gui-automation"
	SpanIO            SpanType = "io"
	SpanComputation   SpanType = "computation"
)

// SpanTypes lists every valid span type.
var SpanTypes = []SpanType{SpanNavigation, SpanRead, SpanWrite, SpanGUIAutomation, SpanIO, SpanComputation}

// Valid reports whether t belongs to the closed set.
func (t SpanType) Valid() bool {
	for _, known := range SpanTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Mutating reports whether the span type changes external state.
func (t SpanType) Mutating() bool {
	return t == SpanWrite || t == SpanGUIAutomation || t == SpanIO
}

// SpanStatus represents the lifecycle state of a span.
type SpanStatus string

const (
	StatusPending          SpanStatus = "pending"
	StatusSimulating       SpanStatus = "simulating"
	StatusAwaitingApproval SpanStatus = "awaiting_approval"
	StatusExecuting        SpanStatus = "executing"
	StatusCompleted        SpanStatus = "completed"
	StatusFailed           SpanStatus = "failed"
	StatusRolledBack       SpanStatus = "rolled_back"
)

// SpanStatuses lists every status in lifecycle order.
var SpanStatuses = []SpanStatus{
	StatusPending, StatusSimulating, StatusAwaitingApproval, StatusExecuting,
	StatusCompleted, StatusFailed, StatusRolledBack,
}

// Terminal reports whether no further forward transition exists.
func (s SpanStatus) Terminal() bool {
	return s == StatusFailed || s == StatusRolledBack
}

// Active reports whether the span is between creation and a final outcome.
func (s SpanStatus) Active() bool {
	return s == StatusSimulating || s == StatusAwaitingApproval || s == StatusExecuting
}

// Span is a unit of governed, potentially reversible work.
type Span struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Type       SpanType       `json:"type"`
	Status     SpanStatus     `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Reversible bool           `json:"reversible"`
	Error      string         `json:"error,omitempty"`
}

// Clone returns a copy that shares no maps with s.
func (s Span) Clone() Span {
	out := s
	out.Metadata = maps.Clone(s.Metadata)
	out.Args = maps.Clone(s.Args)
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	return out
}

// Binding holds the procedures bound to a span.
// Forward is required. Rollback is optional and determines reversibility.
// Simulate is optional; without it a span predicts an empty low-impact diff.
type Binding struct {
	Forward  func(ctx context.Context) (any, error)
	Rollback func(ctx context.Context) error
	Simulate func(ctx context.Context) (Diff, error)
}

// TransitionRecord is one entry in the engine's local ordered transition log.
type TransitionRecord struct {
	Seq    uint64     `json:"seq"`
	SpanID string     `json:"span_id"`
	From   SpanStatus `json:"from,omitempty"`
	To     SpanStatus `json:"to"`
	Event  string     `json:"event"`
	At     time.Time  `json:"at"`
}
