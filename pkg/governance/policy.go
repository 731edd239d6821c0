package governance

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// DefaultPolicies returns the built-in policy set.
func DefaultPolicies() []domain.Policy {
	return []domain.Policy{
		{
			ID:      "baseline",
			Name:    "Baseline governance",
			Enabled: true,
			Rules: []domain.Rule{
				{
					ID:        "allow-non-mutating",
					Kind:      domain.RuleAllow,
					Condition: domain.Condition{SpanTypes: []domain.SpanType{domain.SpanRead, domain.SpanNavigation, domain.SpanComputation}},
					Action:    "proceed",
					Priority:  10,
				},
				{
					ID:        "review-elevated-risk",
					Kind:      domain.RuleRequireApproval,
					Condition: domain.Condition{RiskLevels: []domain.RiskLevel{domain.RiskHigh, domain.RiskCritical}},
					Action:    "manual-review",
					Priority:  20,
				},
				{
					ID:   "review-mutations",
					Kind: domain.RuleRequireApproval,
					Condition: domain.Condition{
						SpanTypes:  []domain.SpanType{domain.SpanWrite, domain.SpanIO, domain.SpanGUIAutomation},
						RiskLevels: []domain.RiskLevel{domain.RiskMedium},
					},
					Action:   "peer-review",
					Priority: 30,
				},
			},
		},
		{
			ID:      "after-hours-freeze",
			Name:    "Freeze mutations outside business hours",
			Enabled: false,
			Rules: []domain.Rule{
				{
					ID:   "deny-after-hours",
					Kind: domain.RuleDeny,
					Condition: domain.Condition{
						SpanTypes: []domain.SpanType{domain.SpanWrite, domain.SpanIO, domain.SpanGUIAutomation},
						Window:    &domain.TimeWindow{Start: "18:00", End: "08:00"},
					},
					Action:   "change-freeze",
					Priority: 1,
				},
			},
		},
	}
}

// spanHints are the metadata fields governance understands.
type spanHints struct {
	Domain string `mapstructure:"domain"`
	Target string `mapstructure:"target"`
	URL    string `mapstructure:"url"`
}

// targetDomain narrows free-form metadata to the host a span acts on.
func targetDomain(metadata map[string]any) string {
	var h spanHints
	if err := mapstructure.WeakDecode(metadata, &h); err != nil {
		return ""
	}
	if h.Domain != "" {
		return strings.ToLower(h.Domain)
	}
	for _, raw := range []string{h.URL, h.Target} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			return strings.ToLower(u.Hostname())
		}
		if !strings.Contains(raw, "/") {
			return strings.ToLower(raw)
		}
	}
	return ""
}

// matchResult collects the outcome of matching every enabled policy.
type matchResult struct {
	denied           bool
	requiresApproval bool
	violations       []string
	matched          []string
}

func matchPolicies(policies []domain.Policy, in domain.MatchInput) matchResult {
	var res matchResult
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		for _, r := range orderedRules(p.Rules) {
			if !r.Condition.Matches(in) {
				continue
			}
			res.matched = append(res.matched, p.ID+"/"+r.ID)
			switch r.Kind {
			case domain.RuleDeny:
				res.denied = true
				res.violations = append(res.violations, violation(p, r))
			case domain.RuleRequireApproval:
				res.requiresApproval = true
			}
		}
	}
	return res
}

func orderedRules(rules []domain.Rule) []domain.Rule {
	out := slices.Clone(rules)
	slices.SortStableFunc(out, func(a, b domain.Rule) int { return a.Priority - b.Priority })
	return out
}

func violation(p domain.Policy, r domain.Rule) string {
	if r.Action != "" {
		return fmt.Sprintf("policy %q rule %q denied the span (%s)", p.Name, r.ID, r.Action)
	}
	return fmt.Sprintf("policy %q rule %q denied the span", p.Name, r.ID)
}
