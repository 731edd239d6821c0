package governance

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/aretw0/warden/pkg/domain"
)

// DefaultApprovalTTL is how long an approval stays pending before it expires.
const DefaultApprovalTTL = 24 * time.Hour

// Approver roles of the default roster.
const (
	RoleTeamLead      = "team-lead"
	RoleDeptManager   = "department-manager"
	RoleSecurityAdmin = "security-admin"
)

// RoleDataProtectionOfficer is the conventional signer of PII contracts.
const RoleDataProtectionOfficer = "dpo"

// Roster maps each risk level to its required approvers.
type Roster map[domain.RiskLevel][]domain.Approver

// DefaultRoster requires 0, 1, 2 and 3 approvers for low, medium, high and critical.
// Critical always includes the security admin.
func DefaultRoster() Roster {
	lead := domain.Approver{ID: RoleTeamLead, Role: RoleTeamLead}
	manager := domain.Approver{ID: RoleDeptManager, Role: RoleDeptManager}
	security := domain.Approver{ID: RoleSecurityAdmin, Role: RoleSecurityAdmin}
	return Roster{
		domain.RiskLow:      nil,
		domain.RiskMedium:   {lead},
		domain.RiskHigh:     {lead, manager},
		domain.RiskCritical: {lead, manager, security},
	}
}

// ApproversFor returns a copy of the approvers required at level.
func (r Roster) ApproversFor(level domain.RiskLevel) []domain.Approver {
	return slices.Clone(r[level])
}

// RequestApproval creates a pending approval for a span on behalf of the acting identity.
func (g *Governor) RequestApproval(ctx context.Context, spanID string) (string, error) {
	s, err := g.span(spanID)
	if err != nil {
		return "", err
	}
	return g.requestApproval(ctx, spanID, Assess(s, g.clock()))
}

// requestApproval draws approvers from the roster for the assessed risk level alone.
// Personal data is gated by the contract, not by a larger roster.
func (g *Governor) requestApproval(ctx context.Context, spanID string, risk domain.RiskAssessment) (string, error) {
	actor, ok := domain.ActorFrom(ctx)
	if !ok {
		return "", domain.ErrNoAuthenticatedUser
	}

	approvers := g.roster.ApproversFor(risk.Level)
	statuses := make([]domain.ApproverStatus, len(approvers))
	for i, a := range approvers {
		statuses[i] = domain.ApproverStatus{ApproverID: a.ID, Role: a.Role, Decision: domain.DecisionPending}
	}

	now := g.clock()
	a := &domain.Approval{
		ID:        g.newID(),
		SpanID:    spanID,
		Requester: actor.ID,
		Approvers: statuses,
		Status:    domain.ApprovalPending,
		Risk:      risk,
		CreatedAt: now,
		ExpiresAt: now.Add(g.approvalTTL),
	}
	if len(statuses) == 0 {
		// Nobody to ask at this level: the approval is granted vacuously.
		a.Status = domain.ApprovalApproved
		a.ResolvedAt = &now
	}

	g.mu.Lock()
	g.approvals[a.ID] = a
	g.mu.Unlock()

	ids := make([]string, len(statuses))
	for i, s := range statuses {
		ids[i] = s.ApproverID
	}
	g.logger.InfoContext(ctx, "Approval requested", "approval_id", a.ID, "span_id", spanID, "approvers", ids)
	g.timeline.LogEvent(ctx, domain.EventApprovalRequest, source,
		fmt.Sprintf("approval requested from %d approver(s)", len(ids)), domain.EventOptions{
			SpanID:   spanID,
			UserID:   actor.ID,
			Severity: domain.SeverityInfo,
			Metadata: map[string]any{"approval_id": a.ID, "approvers": ids, "risk_level": risk.Level},
		})
	g.timeline.LogAudit(ctx, domain.AuditEntry{
		UserID:    actor.ID,
		Action:    "approval.request",
		Resource:  "span/" + spanID,
		Outcome:   "pending",
		Details:   map[string]any{"approval_id": a.ID, "risk_level": string(risk.Level)},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	return a.ID, nil
}

// Approve records an approver's consent. The approval becomes approved once every
// approver has approved.
func (g *Governor) Approve(ctx context.Context, approvalID, approverID, comment string) error {
	return g.decide(ctx, approvalID, approverID, comment, domain.DecisionApproved)
}

// Reject vetoes an approval. A single rejection rejects the whole approval.
func (g *Governor) Reject(ctx context.Context, approvalID, approverID, comment string) error {
	return g.decide(ctx, approvalID, approverID, comment, domain.DecisionRejected)
}

func (g *Governor) decide(ctx context.Context, approvalID, approverID, comment string, d domain.Decision) error {
	comment, err := SanitizeComment(comment)
	if err != nil {
		return err
	}

	g.mu.Lock()
	a, ok := g.approvals[approvalID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("approval %s: %w", approvalID, domain.ErrNotFound)
	}
	if g.expireLocked(a) {
		snapshot := a.Clone()
		g.mu.Unlock()
		g.recordExpiry(ctx, snapshot)
		return fmt.Errorf("approval %s expired: %w", approvalID, domain.ErrInvalidApprovalState)
	}
	if a.Status != domain.ApprovalPending {
		status := a.Status
		g.mu.Unlock()
		return fmt.Errorf("approval %s is %s: %w", approvalID, status, domain.ErrInvalidApprovalState)
	}
	idx := slices.IndexFunc(a.Approvers, func(s domain.ApproverStatus) bool { return s.ApproverID == approverID })
	if idx < 0 {
		g.mu.Unlock()
		return fmt.Errorf("%s on approval %s: %w", approverID, approvalID, domain.ErrNotAnApprover)
	}

	now := g.clock()
	a.Approvers[idx].Decision = d
	a.Approvers[idx].DecidedAt = &now
	a.Approvers[idx].Comment = comment

	switch {
	case d == domain.DecisionRejected:
		a.Status = domain.ApprovalRejected
		a.ResolvedAt = &now
	case a.Quorum():
		a.Status = domain.ApprovalApproved
		a.ResolvedAt = &now
	}
	snapshot := a.Clone()
	g.mu.Unlock()

	g.recordDecision(ctx, snapshot, approverID, d, comment)
	return nil
}

func (g *Governor) recordDecision(ctx context.Context, a domain.Approval, approverID string, d domain.Decision, comment string) {
	actor, _ := domain.ActorFrom(ctx)
	action := "approval.approve"
	if d == domain.DecisionRejected {
		action = "approval.reject"
	}
	g.timeline.LogAudit(ctx, domain.AuditEntry{
		UserID:    approverID,
		Action:    action,
		Resource:  "approval/" + a.ID,
		Outcome:   string(a.Status),
		Details:   map[string]any{"span_id": a.SpanID, "comment": comment},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})

	g.logger.InfoContext(ctx, "Approval decision recorded",
		"approval_id", a.ID,
		"approver", approverID,
		"decision", d,
		"status", a.Status,
	)

	switch a.Status {
	case domain.ApprovalApproved:
		g.timeline.LogEvent(ctx, domain.EventApprovalGranted, source, "approval granted by all approvers", domain.EventOptions{
			SpanID:   a.SpanID,
			UserID:   approverID,
			Metadata: map[string]any{"approval_id": a.ID},
		})
	case domain.ApprovalRejected:
		g.timeline.LogEvent(ctx, domain.EventApprovalReject, source, fmt.Sprintf("approval rejected by %s", approverID), domain.EventOptions{
			SpanID:   a.SpanID,
			UserID:   approverID,
			Severity: domain.SeverityWarning,
			Metadata: map[string]any{"approval_id": a.ID, "comment": comment},
		})
	}
}

// expireLocked transitions a pending approval past its expiry. Callers hold g.mu.
func (g *Governor) expireLocked(a *domain.Approval) bool {
	now := g.clock()
	if a.Status != domain.ApprovalPending || !now.After(a.ExpiresAt) {
		return false
	}
	a.Status = domain.ApprovalExpired
	a.ResolvedAt = &now
	return true
}

func (g *Governor) recordExpiry(ctx context.Context, a domain.Approval) {
	g.timeline.LogEvent(ctx, domain.EventApprovalExpired, source, "approval expired before quorum", domain.EventOptions{
		SpanID:   a.SpanID,
		Severity: domain.SeverityWarning,
		Metadata: map[string]any{"approval_id": a.ID, "expires_at": a.ExpiresAt},
	})
}

// SweepExpired expires every pending approval past its deadline and returns how many.
func (g *Governor) SweepExpired(ctx context.Context) int {
	var expired []domain.Approval
	g.mu.Lock()
	for _, a := range g.approvals {
		if g.expireLocked(a) {
			expired = append(expired, a.Clone())
		}
	}
	g.mu.Unlock()

	for _, a := range expired {
		g.recordExpiry(ctx, a)
	}
	if len(expired) > 0 {
		g.logger.InfoContext(ctx, "Expired approvals swept", "count", len(expired))
	}
	return len(expired)
}

// GetApproval returns a copy of an approval.
func (g *Governor) GetApproval(ctx context.Context, approvalID string) (domain.Approval, error) {
	g.mu.Lock()
	a, ok := g.approvals[approvalID]
	if !ok {
		g.mu.Unlock()
		return domain.Approval{}, fmt.Errorf("approval %s: %w", approvalID, domain.ErrNotFound)
	}
	expired := g.expireLocked(a)
	snapshot := a.Clone()
	g.mu.Unlock()

	if expired {
		g.recordExpiry(ctx, snapshot)
	}
	return snapshot, nil
}

// ListApprovals returns approvals oldest first, optionally filtered by status.
func (g *Governor) ListApprovals(statuses ...domain.ApprovalStatus) []domain.Approval {
	g.mu.RLock()
	out := make([]domain.Approval, 0, len(g.approvals))
	for _, a := range g.approvals {
		if len(statuses) == 0 || slices.Contains(statuses, a.Status) {
			out = append(out, a.Clone())
		}
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PendingApprovals counts approvals still awaiting quorum.
func (g *Governor) PendingApprovals() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, a := range g.approvals {
		if a.Status == domain.ApprovalPending {
			n++
		}
	}
	return n
}

// reusableApproval finds a pending, or approved and unexpired, approval for a span.
func (g *Governor) reusableApproval(spanID string) (domain.Approval, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	now := g.clock()
	for _, a := range g.approvals {
		if a.SpanID != spanID {
			continue
		}
		if !now.Before(a.ExpiresAt) {
			continue
		}
		if a.Status == domain.ApprovalPending || a.Status == domain.ApprovalApproved {
			return a.Clone(), true
		}
	}
	return domain.Approval{}, false
}
