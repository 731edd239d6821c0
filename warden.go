package warden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/internal/runtime"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/observability"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/aretw0/warden/pkg/registry"
	"github.com/aretw0/warden/pkg/spanlock"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/aretw0/warden/pkg/timeline/sink"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSweepInterval is how often Maintain expires stale approvals.
const DefaultSweepInterval = time.Minute

// Warden is the high-level entry point. It wires the span engine, governance and
// the timeline together: governance is the execution gate, and every transition,
// decision and alert lands on the timeline.
type Warden struct {
	engine   *runtime.Engine
	governor *governance.Governor
	timeline *timeline.Store
	registry *registry.Registry

	policies     []domain.Policy
	policyLoader ports.PolicyLoader
	govOpts      []governance.Option
	storeOpts    []timeline.Option
	locker       ports.DistributedLocker
	lockTTL      time.Duration
	sinks        []sink.Sink
	metrics      *observability.Metrics
	tracer       trace.Tracer
	hooks        domain.LifecycleHooks
	ungated      bool
	clock        func() time.Time
	logger       *slog.Logger
}

// Option configures a Warden.
type Option func(*Warden)

// WithLogger sets a structured logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Warden) { w.logger = logger }
}

// WithPolicies replaces the built-in policy set.
func WithPolicies(policies []domain.Policy) Option {
	return func(w *Warden) { w.policies = policies }
}

// WithPolicyLoader loads the policy set from loader during New.
func WithPolicyLoader(loader ports.PolicyLoader) Option {
	return func(w *Warden) { w.policyLoader = loader }
}

// WithGovernanceOptions passes options through to the governor.
func WithGovernanceOptions(opts ...governance.Option) Option {
	return func(w *Warden) { w.govOpts = append(w.govOpts, opts...) }
}

// WithTimelineOptions passes options through to the timeline store.
func WithTimelineOptions(opts ...timeline.Option) Option {
	return func(w *Warden) { w.storeOpts = append(w.storeOpts, opts...) }
}

// WithLocker serializes execution and rollback per span target across processes.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(w *Warden) {
		w.locker = locker
		w.lockTTL = ttl
	}
}

// WithSinks forwards every timeline event to the given sinks.
func WithSinks(sinks ...sink.Sink) Option {
	return func(w *Warden) { w.sinks = append(w.sinks, sinks...) }
}

// WithMetrics exports transitions and events as Prometheus series.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Warden) { w.metrics = m }
}

// WithTracer traces every lifecycle operation.
func WithTracer(t trace.Tracer) Option {
	return func(w *Warden) { w.tracer = t }
}

// WithLifecycleHooks registers transition callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(w *Warden) { w.hooks = hooks }
}

// WithRegistry replaces the operation catalog. The default catalog holds the
// in-memory KV operations and web.visit.
func WithRegistry(r *registry.Registry) Option {
	return func(w *Warden) { w.registry = r }
}

// WithoutGovernanceGate lets Execute proceed without a prior validation.
func WithoutGovernanceGate() Option {
	return func(w *Warden) { w.ungated = true }
}

// WithClock overrides time.Now in every component.
func WithClock(clock func() time.Time) Option {
	return func(w *Warden) { w.clock = clock }
}

// New wires a Warden. Policies come from WithPolicyLoader when given, then
// WithPolicies, then the built-in set.
func New(opts ...Option) (*Warden, error) {
	w := &Warden{clock: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	if w.registry == nil {
		w.registry = registry.NewRegistry()
		registry.RegisterKV(w.registry, registry.NewKV())
		registry.RegisterWeb(w.registry, &http.Client{Timeout: 30 * time.Second})
	}

	var engine *runtime.Engine
	spans := spanReader(func(id string) (domain.Span, error) { return engine.Get(id) })

	storeOpts := []timeline.Option{
		timeline.WithHealthProbes(timeline.HealthProbes{
			ActiveSpans:      func() int { return engine.ActiveCount() },
			PendingApprovals: func() int { return w.governor.PendingApprovals() },
		}),
		timeline.WithClock(w.clock),
		timeline.WithLogger(w.logger.With("component", "timeline")),
	}
	w.timeline = timeline.New(append(storeOpts, w.storeOpts...)...)

	govOpts := []governance.Option{
		governance.WithTimeline(w.timeline),
		governance.WithClock(w.clock),
		governance.WithLogger(w.logger.With("component", "governance")),
	}
	if w.policies != nil {
		govOpts = append(govOpts, governance.WithPolicies(w.policies))
	}
	w.governor = governance.New(spans, append(govOpts, w.govOpts...)...)

	if w.policyLoader != nil {
		if err := w.governor.LoadPolicies(context.Background(), w.policyLoader); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}

	lockOpts := []spanlock.Option{spanlock.WithLogger(w.logger.With("component", "spanlock"))}
	if w.locker != nil {
		lockOpts = append(lockOpts, spanlock.WithLocker(w.locker))
	}
	if w.lockTTL > 0 {
		lockOpts = append(lockOpts, spanlock.WithResourceTTL(w.lockTTL))
	}
	locks := spanlock.NewManager(lockOpts...)

	engineOpts := []runtime.Option{
		runtime.WithRecorder(w.timeline),
		runtime.WithLocks(locks),
		runtime.WithLifecycleHooks(domain.LifecycleHooks{OnTransition: w.onTransition}),
		runtime.WithClock(w.clock),
		runtime.WithLogger(w.logger.With("component", "engine")),
	}
	if !w.ungated {
		engineOpts = append(engineOpts, runtime.WithGate(w.governor))
	}
	if w.tracer != nil {
		engineOpts = append(engineOpts, runtime.WithTracer(w.tracer))
	}
	engine = runtime.NewEngine(engineOpts...)
	w.engine = engine

	for _, s := range w.sinks {
		w.timeline.Subscribe(sink.Listener(s))
	}
	if w.metrics != nil {
		w.timeline.Subscribe(w.metrics.OnEvent)
	}
	return w, nil
}

// onTransition records execution latency and fans out to the registered hooks.
func (w *Warden) onTransition(ctx context.Context, ev *domain.TransitionEvent) {
	if ev.From == domain.StatusExecuting {
		w.timeline.RecordMetric(ctx, timeline.MetricLatency, float64(ev.Elapsed.Milliseconds()), "ms", "engine",
			map[string]string{"span_type": string(ev.SpanType), "outcome": string(ev.To)})
	}
	if w.metrics != nil {
		w.metrics.OnTransition(ctx, ev)
	}
	if w.hooks.OnTransition != nil {
		w.hooks.OnTransition(ctx, ev)
	}
}

type spanReader func(id string) (domain.Span, error)

func (f spanReader) Get(id string) (domain.Span, error) { return f(id) }

// SpanRequest describes a span to create from the operation catalog.
type SpanRequest struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
}

// Create binds a catalog operation and allocates its span.
// A "url" argument doubles as the span's url hint unless metadata already names one.
func (w *Warden) Create(ctx context.Context, req SpanRequest) (domain.Span, error) {
	typ, b, err := w.registry.Bind(req.Operation, req.Args)
	if err != nil {
		return domain.Span{}, err
	}
	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if u, ok := req.Args["url"]; ok {
		if _, set := meta["url"]; !set {
			meta["url"] = u
		}
	}
	meta["operation"] = req.Operation
	return w.CreateSpan(ctx, typ, b, SpanRequest{Args: req.Args, Metadata: meta, ParentID: req.ParentID})
}

// CreateSpan allocates a span for caller-supplied procedures. req.Operation is ignored.
func (w *Warden) CreateSpan(ctx context.Context, typ domain.SpanType, b domain.Binding, req SpanRequest) (domain.Span, error) {
	opts := []runtime.CreateOption{runtime.WithArgs(req.Args), runtime.WithMetadata(req.Metadata)}
	if req.ParentID != "" {
		opts = append(opts, runtime.WithParent(req.ParentID))
	}
	id, err := w.engine.Create(ctx, typ, b, opts...)
	if err != nil {
		return domain.Span{}, err
	}
	return w.engine.Get(id)
}

// Span returns a snapshot of a span.
func (w *Warden) Span(id string) (domain.Span, error) { return w.engine.Get(id) }

// Spans returns every span in creation order.
func (w *Warden) Spans() []domain.Span { return w.engine.List() }

// History returns the local transition records of a span.
func (w *Warden) History(id string) []domain.TransitionRecord { return w.engine.History(id) }

// Simulate predicts a pending span's effect.
func (w *Warden) Simulate(ctx context.Context, id string) (domain.Diff, error) {
	return w.engine.Simulate(ctx, id)
}

// Validate evaluates a span against governance and opens an approval when one is needed.
func (w *Warden) Validate(ctx context.Context, id string) (governance.Validation, error) {
	return w.governor.ValidateSpanExecution(ctx, id)
}

// Execute runs a span's forward procedure once governance allows it.
func (w *Warden) Execute(ctx context.Context, id string) (any, error) {
	return w.engine.Execute(ctx, id)
}

// Rollback undoes a completed, reversible span.
func (w *Warden) Rollback(ctx context.Context, id string) error {
	return w.engine.Rollback(ctx, id)
}

// Remove discards a span and its governance decision.
func (w *Warden) Remove(ctx context.Context, id string) error {
	if err := w.engine.Remove(ctx, id); err != nil {
		return err
	}
	w.governor.Forget(id)
	return nil
}

// Run drives a span through simulate, validate and execute. It stops early with
// the validation when governance needs an approval or a contract first.
func (w *Warden) Run(ctx context.Context, id string) (governance.Validation, any, error) {
	if _, err := w.Simulate(ctx, id); err != nil {
		return governance.Validation{}, nil, err
	}
	v, err := w.Validate(ctx, id)
	if err != nil {
		return governance.Validation{}, nil, err
	}
	if !v.CanExecute {
		return v, nil, nil
	}
	result, err := w.Execute(ctx, id)
	return v, result, err
}

// Approve records an approver's consent.
func (w *Warden) Approve(ctx context.Context, approvalID, approverID, comment string) error {
	return w.governor.Approve(ctx, approvalID, approverID, comment)
}

// Reject vetoes an approval.
func (w *Warden) Reject(ctx context.Context, approvalID, approverID, comment string) error {
	return w.governor.Reject(ctx, approvalID, approverID, comment)
}

// Approval returns an approval by id.
func (w *Warden) Approval(ctx context.Context, id string) (domain.Approval, error) {
	return w.governor.GetApproval(ctx, id)
}

// Approvals lists approvals oldest first, optionally filtered by status.
func (w *Warden) Approvals(statuses ...domain.ApprovalStatus) []domain.Approval {
	return w.governor.ListApprovals(statuses...)
}

// GenerateContract drafts a PII contract for a span.
func (w *Warden) GenerateContract(ctx context.Context, spanID string, piiTypes []string) (domain.Contract, error) {
	return w.governor.GeneratePIIContract(ctx, spanID, piiTypes)
}

// SignContract signs a contract as the acting identity.
func (w *Warden) SignContract(ctx context.Context, id string) (domain.Contract, error) {
	return w.governor.SignContract(ctx, id)
}

// Contract returns a contract by id.
func (w *Warden) Contract(id string) (domain.Contract, error) { return w.governor.Contract(id) }

// Health runs the health battery.
func (w *Warden) Health(ctx context.Context) domain.SystemHealth { return w.timeline.Health(ctx) }

// Operations lists the catalog.
func (w *Warden) Operations() []string { return w.registry.Names() }

// Governor exposes policy management and PII detection.
func (w *Warden) Governor() *governance.Governor { return w.governor }

// Timeline exposes queries, metrics, alerts and traces.
func (w *Warden) Timeline() *timeline.Store { return w.timeline }

// Registry exposes the operation catalog.
func (w *Warden) Registry() *registry.Registry { return w.registry }

// Maintain expires stale approvals every interval until ctx ends.
func (w *Warden) Maintain(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			w.governor.SweepExpired(ctx)
		}
	}
}
