package domain

import (
	"context"
	"slices"
	"time"
)

// EventType defines the category of a timeline event.
type EventType string

const (
	EventSpanCreated     EventType = "span_created"
	EventSpanSimulating  EventType = "span_simulating"
	EventSpanSimulated   EventType = "span_simulated"
	EventSpanExecuting   EventType = "span_executing"
	EventSpanCompleted   EventType = "span_completed"
	EventSpanFailed      EventType = "span_failed"
	EventSpanRolledBack  EventType = "span_rolled_back"
	EventRollbackFailed  EventType = "span_rollback_failed"
	EventSpanRemoved     EventType = "span_removed"
	EventPolicyEvaluated EventType = "policy_evaluated"
	EventPolicyViolation EventType = "policy_violation"
	EventPIIDetected     EventType = "pii_detected"
	EventApprovalRequest EventType = "approval_requested"
	EventApprovalGranted EventType = "approval_approved"
	EventApprovalReject  EventType = "approval_rejected"
	EventApprovalExpired EventType = "approval_expired"
	EventContractCreated EventType = "contract_generated"
	EventContractSigned  EventType = "contract_signed"
	EventAlertCreated    EventType = "alert_created"
	EventAlertResolved   EventType = "alert_resolved"
	EventSystem          EventType = "system"
)

// EventTypeForStatus maps a span status to the event mirrored on the timeline.
func EventTypeForStatus(s SpanStatus) EventType {
	switch s {
	case StatusPending:
		return EventSpanCreated
	case StatusSimulating:
		return EventSpanSimulating
	case StatusAwaitingApproval:
		return EventSpanSimulated
	case StatusExecuting:
		return EventSpanExecuting
	case StatusCompleted:
		return EventSpanCompleted
	case StatusFailed:
		return EventSpanFailed
	case StatusRolledBack:
		return EventSpanRolledBack
	}
	return EventSystem
}

// Severity grades events and alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is an immutable timeline record.
type Event struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	SpanID    string         `json:"span_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
}

// HasTags reports whether e carries every tag in want.
func (e Event) HasTags(want []string) bool {
	for _, t := range want {
		if !slices.Contains(e.Tags, t) {
			return false
		}
	}
	return true
}

// EventOptions carries the optional fields of a logged event.
type EventOptions struct {
	SpanID   string
	UserID   string
	TraceID  string
	Severity Severity
	Metadata map[string]any
	Tags     []string
}

// MetricSample is one point of a metric time series.
type MetricSample struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Source    string            `json:"source,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Alert is raised by threshold breaches or governance triggers.
type Alert struct {
	ID          string     `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Type        string     `json:"type"`
	Severity    Severity   `json:"severity"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Source      string     `json:"source"`
	Resolved    bool       `json:"resolved"`
	ResolvedBy  string     `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// AuditEntry is the input of a compliance record.
type AuditEntry struct {
	UserID    string
	Action    string
	Resource  string
	Outcome   string
	Details   map[string]any
	IP        string
	UserAgent string
}

// AuditRecord is a stored compliance record.
type AuditRecord struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource"`
	Outcome   string         `json:"outcome"`
	Details   map[string]any `json:"details,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
}

// HealthStatus aggregates health checks.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// HealthCheck is one entry of the health battery.
type HealthCheck struct {
	Name    string `json:"name"`
	Value   int    `json:"value"`
	Limit   int    `json:"limit"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// SystemHealth is the aggregated result of the health battery.
type SystemHealth struct {
	Status    HealthStatus  `json:"status"`
	Checks    []HealthCheck `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// TransitionEvent describes a span status change for lifecycle hooks.
type TransitionEvent struct {
	SpanID   string
	SpanType SpanType
	From     SpanStatus
	To       SpanStatus
	At       time.Time
	// Elapsed is the time spent in From.
	Elapsed time.Duration
	Err     error
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnTransition func(context.Context, *TransitionEvent)
}
