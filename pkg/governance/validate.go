package governance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/warden/pkg/domain"
)

// ValidationError represents a single policy definition failure.
type ValidationError struct {
	Policy string
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("policy %q: %s", e.Policy, e.Reason)
	}
	return fmt.Sprintf("policy %q rule %q: %s", e.Policy, e.Rule, e.Reason)
}

// AggregateError represents multiple validation failures.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// ValidationErrors returns all validation errors if err wraps an AggregateError.
func ValidationErrors(err error) []error {
	var aggr *AggregateError
	if errors.As(err, &aggr) {
		return aggr.Errors
	}
	return nil
}

// ValidatePolicies checks ids, rule kinds, span types, risk levels and windows.
func ValidatePolicies(policies []domain.Policy) error {
	var errs []error
	add := func(p, r, format string, args ...any) {
		errs = append(errs, &ValidationError{Policy: p, Rule: r, Reason: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]bool)
	for i, p := range policies {
		pid := p.ID
		if pid == "" {
			pid = fmt.Sprintf("#%d", i)
			add(pid, "", "missing id")
		} else if seen[pid] {
			add(pid, "", "duplicate id")
		}
		seen[pid] = true

		rules := make(map[string]bool)
		for j, r := range p.Rules {
			rid := r.ID
			if rid == "" {
				rid = fmt.Sprintf("#%d", j)
				add(pid, rid, "missing id")
			} else if rules[rid] {
				add(pid, rid, "duplicate rule id")
			}
			rules[rid] = true

			if !r.Kind.Valid() {
				add(pid, rid, "unknown kind %q", r.Kind)
			}
			for _, t := range r.Condition.SpanTypes {
				if !t.Valid() {
					add(pid, rid, "unknown span type %q", t)
				}
			}
			for _, l := range r.Condition.RiskLevels {
				if l.Rank() < 0 {
					add(pid, rid, "unknown risk level %q", l)
				}
			}
			if r.Condition.Window != nil {
				if err := r.Condition.Window.Validate(); err != nil {
					add(pid, rid, "%v", err)
				}
			}
		}
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}
