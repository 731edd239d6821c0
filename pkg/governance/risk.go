package governance

import (
	"fmt"
	"time"

	"github.com/aretw0/warden/pkg/domain"
)

type typeFactor struct {
	impact      int
	likelihood  int
	description string
}

// typeFactors score each span type as impact x likelihood.
var typeFactors = map[domain.SpanType]typeFactor{
	domain.SpanNavigation:    {2, 3, "navigates to an external location"},
	domain.SpanRead:          {1, 3, "reads data"},
	domain.SpanWrite:         {4, 3, "modifies data"},
	domain.SpanGUIAutomation: {4, 3, "drives a user interface"},
	domain.SpanIO:            {4, 2, "performs device or file I/O"},
	domain.SpanComputation:   {1, 2, "performs a local computation"},
}

// irreversibleScore is added for mutating spans without a rollback procedure.
const irreversibleScore = 25

// Mitigation recommendations.
const (
	MitigationManualApproval = "Require manual approval before execution"
	MitigationAuditLogging   = "Enable audit logging for this operation"
	MitigationBackup         = "Create a backup of affected resources before execution"
	MitigationReviewDiff     = "Review the simulated diff before execution"
)

// Assess computes a risk assessment. It depends only on the span type and reversibility.
func Assess(span domain.Span, now time.Time) domain.RiskAssessment {
	ra := domain.RiskAssessment{SpanID: span.ID, AssessedAt: now}

	if f, ok := typeFactors[span.Type]; ok {
		ra.Factors = append(ra.Factors, domain.RiskFactor{
			Type:        "span_type",
			Description: fmt.Sprintf("%s span %s", span.Type, f.description),
			Impact:      f.impact,
			Likelihood:  f.likelihood,
			Score:       f.impact * f.likelihood,
		})
	}

	irreversible := span.Type.Mutating() && !span.Reversible
	if irreversible {
		ra.Factors = append(ra.Factors, domain.RiskFactor{
			Type:        "irreversible",
			Description: "no rollback procedure was supplied",
			Score:       irreversibleScore,
		})
	}

	for _, f := range ra.Factors {
		ra.Score += f.Score
	}
	ra.Level = domain.LevelForScore(ra.Score)

	switch ra.Level {
	case domain.RiskHigh, domain.RiskCritical:
		ra.Mitigations = append(ra.Mitigations, MitigationManualApproval, MitigationAuditLogging)
	case domain.RiskMedium:
		ra.Mitigations = append(ra.Mitigations, MitigationReviewDiff)
	}
	if irreversible {
		ra.Mitigations = append(ra.Mitigations, MitigationBackup)
	}
	return ra
}
