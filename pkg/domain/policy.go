package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// RuleKind decides what a matching rule does.
type RuleKind string

const (
	RuleAllow           RuleKind = "allow"
	RuleDeny            RuleKind = "deny"
	RuleRequireApproval RuleKind = "require-approval"
)

// Valid reports whether k is a known rule kind.
func (k RuleKind) Valid() bool {
	return k == RuleAllow || k == RuleDeny || k == RuleRequireApproval
}

// Policy is a named, ordered set of rules.
type Policy struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// Rule matches spans by condition. Priority only orders rules for display;
// every matching rule is applied and any deny wins.
type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Kind      RuleKind  `json:"kind" yaml:"kind"`
	Condition Condition `json:"condition" yaml:"condition"`
	Action    string    `json:"action,omitempty" yaml:"action,omitempty"`
	Priority  int       `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// Condition fields are ANDed; an empty field matches everything.
type Condition struct {
	SpanTypes  []SpanType  `json:"span_types,omitempty" yaml:"span_types,omitempty"`
	Domains    []string    `json:"domains,omitempty" yaml:"domains,omitempty"`
	RiskLevels []RiskLevel `json:"risk_levels,omitempty" yaml:"risk_levels,omitempty"`
	Roles      []string    `json:"roles,omitempty" yaml:"roles,omitempty"`
	Window     *TimeWindow `json:"window,omitempty" yaml:"window,omitempty"`
}

// MatchInput is what a rule condition is matched against.
type MatchInput struct {
	SpanType  SpanType
	Domain    string
	RiskLevel RiskLevel
	Roles     []string
	Now       time.Time
}

// Matches reports whether every non-empty field of c accepts in.
func (c Condition) Matches(in MatchInput) bool {
	if len(c.SpanTypes) > 0 && !slices.Contains(c.SpanTypes, in.SpanType) {
		return false
	}
	if len(c.Domains) > 0 && !matchDomain(c.Domains, in.Domain) {
		return false
	}
	if len(c.RiskLevels) > 0 && !slices.Contains(c.RiskLevels, in.RiskLevel) {
		return false
	}
	if len(c.Roles) > 0 && !slices.ContainsFunc(in.Roles, func(r string) bool { return slices.Contains(c.Roles, r) }) {
		return false
	}
	if c.Window != nil && !c.Window.Contains(in.Now) {
		return false
	}
	return true
}

// matchDomain accepts exact hosts and "*.example.com" suffix patterns.
func matchDomain(patterns []string, domain string) bool {
	if domain == "" {
		return false
	}
	domain = strings.ToLower(domain)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if p == "*" || p == domain {
			return true
		}
		if suffix, ok := strings.CutPrefix(p, "*."); ok && strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

// TimeWindow is a time-of-day range with an optional day-of-week set.
// Start and End use "HH:MM". A window whose End precedes Start wraps midnight.
type TimeWindow struct {
	Start string   `json:"start,omitempty" yaml:"start,omitempty"`
	End   string   `json:"end,omitempty" yaml:"end,omitempty"`
	Days  []string `json:"days,omitempty" yaml:"days,omitempty"`
}

// Validate checks the clock format and day names.
func (w TimeWindow) Validate() error {
	for _, v := range []string{w.Start, w.End} {
		if v == "" {
			continue
		}
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("invalid clock %q: %w", v, err)
		}
	}
	for _, d := range w.Days {
		if _, ok := weekdays[strings.ToLower(d)]; !ok {
			return fmt.Errorf("invalid weekday %q", d)
		}
	}
	return nil
}

// Contains reports whether now falls inside the window.
func (w TimeWindow) Contains(now time.Time) bool {
	if len(w.Days) > 0 {
		ok := false
		for _, d := range w.Days {
			if wd, known := weekdays[strings.ToLower(d)]; known && wd == now.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if w.Start == "" && w.End == "" {
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	start, end := clockMinutes(w.Start, 0), clockMinutes(w.End, 24*60)
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func clockMinutes(v string, fallback int) int {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return fallback
	}
	return t.Hour()*60 + t.Minute()
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}
