package governance

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/warden/pkg/domain"
)

var contractBenefits = []string{
	"The operation completes without manual data entry",
	"Every access to personal data is recorded in the audit log",
	"Personal data is masked in every event that leaves the process",
}

var contractObligations = []string{
	"Personal data is used only for the operation described in scope",
	"Personal data is not retained after the operation completes",
	"Approvers may revoke consent by rejecting the associated approval",
}

// GeneratePIIContract builds the disclosure a human signs before a span handles personal data.
// With no piiTypes the span's arguments are scanned to fill them in.
// The risk level is always high; enforcement happens through Evaluate's contract flag.
func (g *Governor) GeneratePIIContract(ctx context.Context, spanID string, piiTypes []string) (domain.Contract, error) {
	s, err := g.span(spanID)
	if err != nil {
		return domain.Contract{}, err
	}
	if len(piiTypes) == 0 {
		piiTypes = g.detector.Detect(payload(s)).Types
	}
	types := slices.Clone(piiTypes)
	slices.Sort(types)
	types = slices.Compact(types)

	scope := fmt.Sprintf("A %s operation (span %s) will process personal data of type %s.",
		s.Type, s.ID, strings.Join(types, ", "))
	if target := targetDomain(s.Metadata); target != "" {
		scope += fmt.Sprintf(" Data may be sent to %s.", target)
	}

	actor, _ := domain.ActorFrom(ctx)
	c := &domain.Contract{
		ID:          g.newID(),
		SpanID:      spanID,
		SpanType:    s.Type,
		PIITypes:    types,
		RiskLevel:   domain.RiskHigh,
		Scope:       scope,
		Benefits:    slices.Clone(contractBenefits),
		Obligations: slices.Clone(contractObligations),
		Status:      domain.ContractPending,
		CreatedAt:   g.clock(),
		RequestedBy: actor.ID,
	}

	g.mu.Lock()
	g.contracts[c.ID] = c
	g.mu.Unlock()

	g.timeline.LogEvent(ctx, domain.EventContractCreated, source, "PII contract generated", domain.EventOptions{
		SpanID:   spanID,
		UserID:   actor.ID,
		Metadata: map[string]any{"contract_id": c.ID, "pii_types": types},
	})
	return cloneContract(*c), nil
}

// SignContract records the acting identity's sign-off. Signing twice is a no-op.
// Whoever generated the contract or requested an approval for its span cannot sign it.
func (g *Governor) SignContract(ctx context.Context, contractID string) (domain.Contract, error) {
	actor, ok := domain.ActorFrom(ctx)
	if !ok {
		return domain.Contract{}, domain.ErrNoAuthenticatedUser
	}

	g.mu.Lock()
	c, found := g.contracts[contractID]
	if !found {
		g.mu.Unlock()
		return domain.Contract{}, fmt.Errorf("contract %s: %w", contractID, domain.ErrNotFound)
	}
	if c.Status == domain.ContractSigned {
		snapshot := cloneContract(*c)
		g.mu.Unlock()
		return snapshot, nil
	}
	if g.requestedByLocked(c, actor.ID) {
		spanID := c.SpanID
		g.mu.Unlock()
		g.timeline.LogAudit(ctx, domain.AuditEntry{
			UserID:    actor.ID,
			Action:    "contract.sign",
			Resource:  "contract/" + contractID,
			Outcome:   "denied",
			Details:   map[string]any{"span_id": spanID, "reason": "self sign-off"},
			IP:        actor.IP,
			UserAgent: actor.UserAgent,
		})
		return domain.Contract{}, fmt.Errorf("%s on contract %s: %w", actor.ID, contractID, domain.ErrSelfSignOff)
	}
	now := g.clock()
	c.Status = domain.ContractSigned
	c.SignedBy = actor.ID
	c.SignedAt = &now
	snapshot := cloneContract(*c)
	g.mu.Unlock()

	g.timeline.LogAudit(ctx, domain.AuditEntry{
		UserID:    actor.ID,
		Action:    "contract.sign",
		Resource:  "contract/" + contractID,
		Outcome:   "signed",
		Details:   map[string]any{"span_id": snapshot.SpanID, "pii_types": snapshot.PIITypes},
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	g.timeline.LogEvent(ctx, domain.EventContractSigned, source, "PII contract signed", domain.EventOptions{
		SpanID:   snapshot.SpanID,
		UserID:   actor.ID,
		Metadata: map[string]any{"contract_id": contractID},
	})
	return snapshot, nil
}

// Contract returns a copy of a contract.
func (g *Governor) Contract(contractID string) (domain.Contract, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.contracts[contractID]
	if !ok {
		return domain.Contract{}, fmt.Errorf("contract %s: %w", contractID, domain.ErrNotFound)
	}
	return cloneContract(*c), nil
}

// contractCoversLocked reports whether a signed contract for the span covers types.
// Callers hold g.mu.
func (g *Governor) contractCoversLocked(spanID string, types []string) bool {
	for _, c := range g.contracts {
		if c.SpanID == spanID && c.Covers(types) {
			return true
		}
	}
	return false
}

// requestedByLocked reports whether id asked for the contract or for an approval of
// its span. Callers hold g.mu.
func (g *Governor) requestedByLocked(c *domain.Contract, id string) bool {
	if c.RequestedBy == id {
		return true
	}
	for _, a := range g.approvals {
		if a.SpanID == c.SpanID && a.Requester == id {
			return true
		}
	}
	return false
}

func cloneContract(c domain.Contract) domain.Contract {
	c.PIITypes = slices.Clone(c.PIITypes)
	c.Benefits = slices.Clone(c.Benefits)
	c.Obligations = slices.Clone(c.Obligations)
	if c.SignedAt != nil {
		t := *c.SignedAt
		c.SignedAt = &t
	}
	return c
}
