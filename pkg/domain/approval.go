package domain

import "time"

// ApprovalStatus is the overall state of an approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Decision is a single approver's vote.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Approver is an identity entitled to decide on approvals at some risk level.
type Approver struct {
	ID   string `json:"id" yaml:"id"`
	Role string `json:"role" yaml:"role"`
}

// ApproverStatus tracks one approver's decision.
type ApproverStatus struct {
	ApproverID string     `json:"approver_id"`
	Role       string     `json:"role"`
	Decision   Decision   `json:"decision"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

// Approval is a quorum approval: every approver must approve, one rejection vetoes.
type Approval struct {
	ID         string           `json:"id"`
	SpanID     string           `json:"span_id"`
	Requester  string           `json:"requester"`
	Approvers  []ApproverStatus `json:"approvers"`
	Status     ApprovalStatus   `json:"status"`
	Risk       RiskAssessment   `json:"risk"`
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
}

// Clone returns a deep copy.
func (a Approval) Clone() Approval {
	out := a
	out.Approvers = make([]ApproverStatus, len(a.Approvers))
	for i, s := range a.Approvers {
		if s.DecidedAt != nil {
			t := *s.DecidedAt
			s.DecidedAt = &t
		}
		out.Approvers[i] = s
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}

// Quorum reports whether every approver has approved.
func (a Approval) Quorum() bool {
	for _, s := range a.Approvers {
		if s.Decision != DecisionApproved {
			return false
		}
	}
	return true
}
