package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/olekukonko/tablewriter"
)

// SpanTable lists spans one per row.
func SpanTable(w io.Writer, spans []domain.Span) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Type", "Status", "Reversible", "Started")
	for _, s := range spans {
		if err := table.Append(s.ID, string(s.Type), Status(w, string(s.Status)), fmt.Sprint(s.Reversible), s.StartedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return table.Render()
}

// ApprovalTable lists approvals with their approver decisions.
func ApprovalTable(w io.Writer, approvals []domain.Approval) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Span", "Risk", "Status", "Approvers", "Expires")
	for _, a := range approvals {
		decisions := make([]string, len(a.Approvers))
		for i, s := range a.Approvers {
			decisions[i] = fmt.Sprintf("%s=%s", s.Role, s.Decision)
		}
		if err := table.Append(a.ID, a.SpanID, fmt.Sprintf("%s (%d)", a.Risk.Level, a.Risk.Score),
			Status(w, string(a.Status)), strings.Join(decisions, ", "), a.ExpiresAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return table.Render()
}

// EventTable lists timeline events.
func EventTable(w io.Writer, events []domain.Event) error {
	table := tablewriter.NewWriter(w)
	table.Header("Time", "Type", "Severity", "Span", "User", "Message")
	for _, e := range events {
		if err := table.Append(e.Timestamp.Format(time.TimeOnly), string(e.Type), Status(w, string(e.Severity)), e.SpanID, e.UserID, e.Message); err != nil {
			return err
		}
	}
	return table.Render()
}

// PolicyTable summarizes policies and their rule counts.
func PolicyTable(w io.Writer, policies []domain.Policy) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Enabled", "Rules")
	for _, p := range policies {
		if err := table.Append(p.ID, p.Name, fmt.Sprint(p.Enabled), fmt.Sprint(len(p.Rules))); err != nil {
			return err
		}
	}
	return table.Render()
}

// HealthTable prints each health check against its limit.
func HealthTable(w io.Writer, h domain.SystemHealth) error {
	fmt.Fprintf(w, "Status: %s\n", Status(w, string(h.Status)))
	table := tablewriter.NewWriter(w)
	table.Header("Check", "Value", "Limit", "Passed")
	for _, c := range h.Checks {
		if err := table.Append(c.Name, fmt.Sprint(c.Value), fmt.Sprint(c.Limit), fmt.Sprint(c.Passed)); err != nil {
			return err
		}
	}
	return table.Render()
}
