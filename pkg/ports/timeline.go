package ports

import (
	"context"

	"github.com/aretw0/warden/pkg/domain"
)

// Recorder appends events to the timeline.
type Recorder interface {
	LogEvent(ctx context.Context, typ domain.EventType, source, message string, opts domain.EventOptions) string
}

// AuditLogger appends compliance records.
type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) string
}

// Alerter raises alerts.
type Alerter interface {
	CreateAlert(ctx context.Context, typ string, severity domain.Severity, title, description, source string) string
}

// Timeline is the write side of the observability store.
// Implementations must not block on I/O; callers invoke it on their hot path.
type Timeline interface {
	Recorder
	AuditLogger
	Alerter
}

// NopTimeline discards everything.
type NopTimeline struct{}

func (NopTimeline) LogEvent(context.Context, domain.EventType, string, string, domain.EventOptions) string {
	return ""
}

func (NopTimeline) LogAudit(context.Context, domain.AuditEntry) string { return "" }

func (NopTimeline) CreateAlert(context.Context, string, domain.Severity, string, string, string) string {
	return ""
}
