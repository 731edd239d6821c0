package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/google/uuid"
)

// source is the component name used on timeline records.
const source = "governance"

// Evaluation is the outcome of matching a span against risk, PII and policy rules.
type Evaluation struct {
	SpanID           string                `json:"span_id"`
	Allowed          bool                  `json:"allowed"`
	RequiresApproval bool                  `json:"requires_approval"`
	Violations       []string              `json:"violations"`
	PIIDetected      bool                  `json:"pii_detected"`
	PIITypes         []string              `json:"pii_types"`
	ContractRequired bool                  `json:"contract_required"`
	MatchedRules     []string              `json:"matched_rules"`
	Risk             domain.RiskAssessment `json:"risk"`
}

// Validation is the outcome of ValidateSpanExecution.
type Validation struct {
	SpanID           string                `json:"span_id"`
	CanExecute       bool                  `json:"can_execute"`
	RequiresApproval bool                  `json:"requires_approval"`
	ApprovalID       string                `json:"approval_id,omitempty"`
	Violations       []string              `json:"violations"`
	ContractRequired bool                  `json:"contract_required"`
	PIITypes         []string              `json:"pii_types"`
	Risk             domain.RiskAssessment `json:"risk"`
}

// decision is the remembered validation outcome the execution gate checks.
type decision struct {
	blocked    bool
	violations []string
	approvalID string
	piiTypes   []string
}

// Governor owns policies, approvals and contracts.
type Governor struct {
	spans    ports.SpanReader
	timeline ports.Timeline
	detector *Detector
	roster   Roster

	mu        sync.RWMutex
	policies  []domain.Policy
	approvals map[string]*domain.Approval
	contracts map[string]*domain.Contract
	decisions map[string]decision

	approvalTTL time.Duration
	clock       func() time.Time
	newID       func() string
	logger      *slog.Logger
}

// Option configures the Governor.
type Option func(*Governor)

// WithTimeline sets the sink for events, audit records and alerts.
func WithTimeline(t ports.Timeline) Option {
	return func(g *Governor) { g.timeline = t }
}

// WithPolicies replaces the default policy set.
func WithPolicies(p []domain.Policy) Option {
	return func(g *Governor) { g.policies = slices.Clone(p) }
}

// WithRoster replaces the default approver roster.
func WithRoster(r Roster) Option {
	return func(g *Governor) { g.roster = r }
}

// WithApprovalTTL overrides DefaultApprovalTTL.
func WithApprovalTTL(d time.Duration) Option {
	return func(g *Governor) { g.approvalTTL = d }
}

// WithDetector replaces the PII detector.
func WithDetector(d *Detector) Option {
	return func(g *Governor) { g.detector = d }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(g *Governor) { g.clock = clock }
}

// WithLogger configures a logger for the Governor.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// New creates a Governor reading spans from spans.
func New(spans ports.SpanReader, opts ...Option) *Governor {
	g := &Governor{
		spans:       spans,
		timeline:    ports.NopTimeline{},
		detector:    NewDetector(),
		roster:      DefaultRoster(),
		policies:    DefaultPolicies(),
		approvals:   make(map[string]*domain.Approval),
		contracts:   make(map[string]*domain.Contract),
		decisions:   make(map[string]decision),
		approvalTTL: DefaultApprovalTTL,
		clock:       time.Now,
		newID:       uuid.NewString,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Governor) span(spanID string) (domain.Span, error) {
	s, err := g.spans.Get(spanID)
	if err != nil {
		return domain.Span{}, fmt.Errorf("span %s: %w", spanID, err)
	}
	return s, nil
}

// AssessRisk computes a fresh risk assessment for a span.
func (g *Governor) AssessRisk(_ context.Context, spanID string) (domain.RiskAssessment, error) {
	s, err := g.span(spanID)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	return Assess(s, g.clock()), nil
}

// DetectPII scans content without touching any stored state.
func (g *Governor) DetectPII(content string) domain.PIIResult {
	return g.detector.Detect(content)
}

// Detector returns the PII detector, usable as a sink.Redactor.
func (g *Governor) Detector() *Detector {
	return g.detector
}

// payload is the serialized argument map PII detection runs over.
func payload(s domain.Span) string {
	if len(s.Args) == 0 {
		return ""
	}
	data, err := json.Marshal(s.Args)
	if err != nil {
		return fmt.Sprint(s.Args)
	}
	return string(data)
}

// Evaluate runs risk assessment, PII detection and every enabled policy against a span.
// Any deny disallows. PII without a signed contract always requires a contract and approval.
func (g *Governor) Evaluate(ctx context.Context, spanID string) (Evaluation, error) {
	s, err := g.span(spanID)
	if err != nil {
		return Evaluation{}, err
	}
	now := g.clock()
	risk := Assess(s, now)
	pii := g.detector.Detect(payload(s))

	actor, _ := domain.ActorFrom(ctx)
	in := domain.MatchInput{
		SpanType:  s.Type,
		Domain:    targetDomain(s.Metadata),
		RiskLevel: risk.Level,
		Roles:     actor.Roles,
		Now:       now,
	}

	g.mu.RLock()
	res := matchPolicies(g.policies, in)
	covered := pii.Detected && g.contractCoversLocked(spanID, pii.Types)
	g.mu.RUnlock()

	ev := Evaluation{
		SpanID:           spanID,
		Allowed:          !res.denied,
		RequiresApproval: res.requiresApproval,
		Violations:       res.violations,
		PIIDetected:      pii.Detected,
		PIITypes:         pii.Types,
		MatchedRules:     res.matched,
		Risk:             risk,
	}
	if ev.Violations == nil {
		ev.Violations = []string{}
	}
	if pii.Detected && !covered {
		ev.ContractRequired = true
		ev.RequiresApproval = true
	}

	g.recordEvaluation(ctx, s, actor, ev)
	return ev, nil
}

func (g *Governor) recordEvaluation(ctx context.Context, s domain.Span, actor domain.Actor, ev Evaluation) {
	g.logger.DebugContext(ctx, "Span evaluated",
		"span_id", s.ID,
		"risk_level", ev.Risk.Level,
		"allowed", ev.Allowed,
		"requires_approval", ev.RequiresApproval,
	)

	if ev.PIIDetected {
		g.timeline.LogEvent(ctx, domain.EventPIIDetected, source, "personal data detected in span arguments", domain.EventOptions{
			SpanID:   s.ID,
			UserID:   actor.ID,
			Severity: domain.SeverityWarning,
			Metadata: map[string]any{"pii_types": ev.PIITypes, "contract_required": ev.ContractRequired},
		})
	}

	for _, v := range ev.Violations {
		g.timeline.LogEvent(ctx, domain.EventPolicyViolation, source, v, domain.EventOptions{
			SpanID:   s.ID,
			UserID:   actor.ID,
			Severity: domain.SeverityWarning,
		})
		g.timeline.CreateAlert(ctx, "policy_violation", domain.SeverityWarning,
			fmt.Sprintf("Policy violation on %s span", s.Type), v, source)
	}

	g.timeline.LogEvent(ctx, domain.EventPolicyEvaluated, source, fmt.Sprintf("span evaluated: risk %s", ev.Risk.Level), domain.EventOptions{
		SpanID: s.ID,
		UserID: actor.ID,
		Metadata: map[string]any{
			"allowed":           ev.Allowed,
			"requires_approval": ev.RequiresApproval,
			"risk_score":        ev.Risk.Score,
			"matched_rules":     ev.MatchedRules,
		},
	})
}

// ValidateSpanExecution is the composed entry point: evaluate, then block, request
// approval, or clear the span. The outcome is remembered for Authorize.
// A pending approval for the span is reused rather than duplicated, and an approved,
// unexpired one satisfies the approval requirement. An open approval keeps binding the
// span even when a later evaluation would no longer ask for one.
func (g *Governor) ValidateSpanExecution(ctx context.Context, spanID string) (Validation, error) {
	ev, err := g.Evaluate(ctx, spanID)
	if err != nil {
		return Validation{}, err
	}

	v := Validation{
		SpanID:           spanID,
		Violations:       ev.Violations,
		ContractRequired: ev.ContractRequired,
		PIITypes:         ev.PIITypes,
		Risk:             ev.Risk,
	}

	if !ev.Allowed {
		g.remember(spanID, decision{blocked: true, violations: ev.Violations})
		return v, nil
	}

	if !ev.RequiresApproval {
		// An approval already opened for the span stays binding until it resolves.
		if open, ok := g.reusableApproval(spanID); ok {
			v.ApprovalID = open.ID
			v.RequiresApproval = open.Status == domain.ApprovalPending
			v.CanExecute = open.Status == domain.ApprovalApproved
			g.remember(spanID, decision{approvalID: open.ID})
			return v, nil
		}
		v.CanExecute = true
		g.remember(spanID, decision{})
		return v, nil
	}

	v.RequiresApproval = true
	d := decision{}
	if ev.ContractRequired {
		d.piiTypes = ev.PIITypes
	}

	if existing, ok := g.reusableApproval(spanID); ok {
		v.ApprovalID = existing.ID
		v.CanExecute = existing.Status == domain.ApprovalApproved && !ev.ContractRequired
	} else {
		id, err := g.requestApproval(ctx, spanID, ev.Risk)
		if err != nil {
			return Validation{}, err
		}
		v.ApprovalID = id
	}

	d.approvalID = v.ApprovalID
	g.remember(spanID, d)
	return v, nil
}

func (g *Governor) remember(spanID string, d decision) {
	g.mu.Lock()
	g.decisions[spanID] = d
	g.mu.Unlock()
}

// Authorize gates execution: the span must have been validated, not blocked, its
// approval (if any) approved and unexpired, and any required PII contract signed.
func (g *Governor) Authorize(ctx context.Context, spanID string) error {
	g.mu.Lock()
	d, ok := g.decisions[spanID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: span %s has not been validated", domain.ErrNotAuthorized, spanID)
	}
	if d.blocked {
		g.mu.Unlock()
		return fmt.Errorf("%w: span %s is blocked by policy: %v", domain.ErrNotAuthorized, spanID, d.violations)
	}

	var expired *domain.Approval
	if d.approvalID != "" {
		a, found := g.approvals[d.approvalID]
		if !found {
			g.mu.Unlock()
			return fmt.Errorf("%w: approval %s for span %s is missing", domain.ErrNotAuthorized, d.approvalID, spanID)
		}
		if g.expireLocked(a) {
			snapshot := a.Clone()
			expired = &snapshot
		}
		if a.Status != domain.ApprovalApproved {
			status := a.Status
			g.mu.Unlock()
			if expired != nil {
				g.recordExpiry(ctx, *expired)
			}
			return fmt.Errorf("%w: approval %s is %s", domain.ErrNotAuthorized, d.approvalID, status)
		}
	}

	if len(d.piiTypes) > 0 && !g.contractCoversLocked(spanID, d.piiTypes) {
		g.mu.Unlock()
		return fmt.Errorf("%w: span %s handles %v without a signed contract", domain.ErrNotAuthorized, spanID, d.piiTypes)
	}
	g.mu.Unlock()
	return nil
}

// Forget drops the remembered validation outcome for a discarded span.
func (g *Governor) Forget(spanID string) {
	g.mu.Lock()
	delete(g.decisions, spanID)
	g.mu.Unlock()
}

// Policies returns a copy of the policy set.
func (g *Governor) Policies() []domain.Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.policies)
}

// SetPolicies validates and replaces the whole policy set.
func (g *Governor) SetPolicies(policies []domain.Policy) error {
	if err := ValidatePolicies(policies); err != nil {
		return err
	}
	g.mu.Lock()
	g.policies = slices.Clone(policies)
	g.mu.Unlock()
	return nil
}

// LoadPolicies replaces the policy set from a loader.
func (g *Governor) LoadPolicies(ctx context.Context, loader ports.PolicyLoader) error {
	policies, err := loader.LoadPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	if err := g.SetPolicies(policies); err != nil {
		return err
	}
	g.logger.InfoContext(ctx, "Policies loaded", "count", len(policies))
	return nil
}

// AddPolicy appends a policy, or replaces the one with the same id.
func (g *Governor) AddPolicy(p domain.Policy) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := slices.Clone(g.policies)
	if idx := slices.IndexFunc(next, func(q domain.Policy) bool { return q.ID == p.ID }); idx >= 0 {
		next[idx] = p
	} else {
		next = append(next, p)
	}
	if err := ValidatePolicies(next); err != nil {
		return err
	}
	g.policies = next
	return nil
}

// RemovePolicy deletes a policy by id.
func (g *Governor) RemovePolicy(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := slices.IndexFunc(g.policies, func(p domain.Policy) bool { return p.ID == id })
	if idx < 0 {
		return fmt.Errorf("policy %s: %w", id, domain.ErrNotFound)
	}
	g.policies = slices.Delete(g.policies, idx, idx+1)
	return nil
}

// SetPolicyEnabled toggles a policy.
func (g *Governor) SetPolicyEnabled(id string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := slices.IndexFunc(g.policies, func(p domain.Policy) bool { return p.ID == id })
	if idx < 0 {
		return fmt.Errorf("policy %s: %w", id, domain.ErrNotFound)
	}
	g.policies[idx].Enabled = enabled
	return nil
}
