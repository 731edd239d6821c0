package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/google/uuid"
)

// Default retention caps.
const (
	DefaultEventCapacity  = 1000
	DefaultMetricCapacity = 10000
	DefaultAuditCapacity  = 5000
	DefaultAlertCapacity  = 1000
	DefaultTraceCapacity  = 1000
)

// Listener observes logged events. Errors and panics are logged, never propagated.
type Listener func(ctx context.Context, e domain.Event) error

// Store is the in-memory timeline. The zero value is not usable; call New.
type Store struct {
	mu       sync.RWMutex
	seq      uint64
	events   *ring[domain.Event]
	metrics  *ring[domain.MetricSample]
	audit    *ring[domain.AuditRecord]
	alerts   []domain.Alert
	alertCap int
	traces   map[string]*trace
	traceSeq uint64
	traceCap int

	lmu       sync.RWMutex
	listeners map[domain.EventType][]Listener
	global    []Listener

	thresholds map[string]Threshold
	limits     HealthLimits
	probes     HealthProbes

	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithEventCapacity overrides DefaultEventCapacity.
func WithEventCapacity(n int) Option {
	return func(s *Store) { s.events = newRing[domain.Event](n) }
}

// WithMetricCapacity overrides DefaultMetricCapacity.
func WithMetricCapacity(n int) Option {
	return func(s *Store) { s.metrics = newRing[domain.MetricSample](n) }
}

// WithAuditCapacity overrides DefaultAuditCapacity.
func WithAuditCapacity(n int) Option {
	return func(s *Store) { s.audit = newRing[domain.AuditRecord](n) }
}

// WithAlertCapacity bounds the alert list. Resolved alerts are dropped first.
func WithAlertCapacity(n int) Option {
	return func(s *Store) { s.alertCap = max(n, 1) }
}

// WithTraceCapacity bounds the number of traces. The oldest trace is dropped first.
func WithTraceCapacity(n int) Option {
	return func(s *Store) { s.traceCap = max(n, 1) }
}

// WithThresholds replaces the metric thresholds.
func WithThresholds(t map[string]Threshold) Option {
	return func(s *Store) { s.thresholds = maps.Clone(t) }
}

// WithHealthLimits overrides DefaultHealthLimits.
func WithHealthLimits(l HealthLimits) Option {
	return func(s *Store) { s.limits = l }
}

// WithHealthProbes supplies the counters the health battery checks.
func WithHealthProbes(p HealthProbes) Option {
	return func(s *Store) { s.probes = p }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger configures the logger used for listener failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a timeline store with default capacities and thresholds.
func New(opts ...Option) *Store {
	s := &Store{
		events:     newRing[domain.Event](DefaultEventCapacity),
		metrics:    newRing[domain.MetricSample](DefaultMetricCapacity),
		audit:      newRing[domain.AuditRecord](DefaultAuditCapacity),
		alertCap:   DefaultAlertCapacity,
		traces:     make(map[string]*trace),
		traceCap:   DefaultTraceCapacity,
		listeners:  make(map[domain.EventType][]Listener),
		thresholds: DefaultThresholds(),
		limits:     DefaultHealthLimits(),
		clock:      time.Now,
		newID:      uuid.NewString,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On registers a listener for one event type.
func (s *Store) On(typ domain.EventType, l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners[typ] = append(s.listeners[typ], l)
}

// Subscribe registers a listener for every event type.
// Global listeners run after the type-specific ones.
func (s *Store) Subscribe(l Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.global = append(s.global, l)
}

// LogEvent appends an event and notifies listeners synchronously, in registration order.
// Without an explicit trace id the event joins the trace carried by ctx, if any.
func (s *Store) LogEvent(ctx context.Context, typ domain.EventType, source, message string, opts domain.EventOptions) string {
	e := domain.Event{
		ID:        s.newID(),
		Timestamp: s.clock(),
		Type:      typ,
		Source:    source,
		SpanID:    opts.SpanID,
		UserID:    opts.UserID,
		TraceID:   opts.TraceID,
		Severity:  opts.Severity,
		Message:   message,
		Metadata:  maps.Clone(opts.Metadata),
		Tags:      slices.Clone(opts.Tags),
	}
	if e.Severity == "" {
		e.Severity = domain.SeverityInfo
	}
	if e.TraceID == "" {
		e.TraceID = domain.TraceIDFrom(ctx)
	}

	s.mu.Lock()
	s.seq++
	e.Seq = s.seq
	if evicted, ok := s.events.push(e); ok {
		s.untraceLocked(evicted)
	}
	if e.TraceID != "" {
		t := s.traceLocked(e.TraceID)
		t.events = append(t.events, e.ID)
	}
	s.mu.Unlock()

	s.notify(ctx, e)
	return e.ID
}

func (s *Store) notify(ctx context.Context, e domain.Event) {
	s.lmu.RLock()
	ls := slices.Concat(s.listeners[e.Type], s.global)
	s.lmu.RUnlock()

	for _, l := range ls {
		s.invoke(ctx, l, e)
	}
}

func (s *Store) invoke(ctx context.Context, l Listener, e domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Timeline listener panicked",
				"event_id", e.ID,
				"event_type", e.Type,
				"err", fmt.Errorf("panic: %v", r),
			)
		}
	}()
	if err := l(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "Timeline listener failed",
			"event_id", e.ID,
			"event_type", e.Type,
			"err", err,
		)
	}
}

// LogAudit appends a compliance record.
func (s *Store) LogAudit(ctx context.Context, entry domain.AuditEntry) string {
	rec := domain.AuditRecord{
		ID:        s.newID(),
		Timestamp: s.clock(),
		UserID:    entry.UserID,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Outcome:   entry.Outcome,
		Details:   maps.Clone(entry.Details),
		IP:        entry.IP,
		UserAgent: entry.UserAgent,
	}

	s.mu.Lock()
	s.audit.push(rec)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Audit recorded", "action", rec.Action, "resource", rec.Resource, "outcome", rec.Outcome)
	return rec.ID
}

// Len reports how many events, metric samples and audit records are retained.
func (s *Store) Len() (events, metrics, audit int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events.len(), s.metrics.len(), s.audit.len()
}
