package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/warden/pkg/domain"
)

// Overlay highlights spans on the graph.
type Overlay struct {
	Current string
}

// SpanMermaid produces a Mermaid flowchart of spans nested by parent.
// Node shapes follow the span type:
// - Read, Navigation: [/Parallelogram/]
// - Write, IO: [[Subroutine]]
// - GUI automation: ((Circle))
// - Computation: [Rectangle]
// Irreversible children hang off a dotted edge. Every node is classed by its status.
func SpanMermaid(spans []domain.Span, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	known := make(map[string]bool, len(spans))
	for _, s := range spans {
		known[s.ID] = true
	}

	for _, s := range spans {
		safeID := sanitizeMermaidID(s.ID)

		opener, closer := "[", "]"
		switch s.Type {
		case domain.SpanRead, domain.SpanNavigation:
			opener, closer = "[/", "/]"
		case domain.SpanWrite, domain.SpanIO:
			opener, closer = "[[", "]]"
		case domain.SpanGUIAutomation:
			opener, closer = "((", "))"
		}

		label := string(s.Type)
		if op, ok := s.Metadata["operation"].(string); ok && op != "" {
			label = op
		}
		label = strings.ReplaceAll(label, "\"", "'")
		fmt.Fprintf(&sb, "    %s%s\"%s <br/> %s\"%s\n", safeID, opener, label, s.Status, closer)

		if s.ParentID != "" && known[s.ParentID] {
			arrow := "-->"
			if !s.Reversible {
				arrow = "-.->"
			}
			fmt.Fprintf(&sb, "    %s %s %s\n", sanitizeMermaidID(s.ParentID), arrow, safeID)
		}
	}

	if len(spans) == 0 {
		return sb.String()
	}

	sb.WriteString("\n    %% Status Styles\n")
	// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme.
	sb.WriteString("    classDef pending fill:#f4f4f5,stroke:#71717a,color:#000;\n")
	sb.WriteString("    classDef active fill:#fef9c3,stroke:#ca8a04,color:#000;\n")
	sb.WriteString("    classDef completed fill:#dcfce7,stroke:#16a34a,color:#000;\n")
	sb.WriteString("    classDef failed fill:#fee2e2,stroke:#dc2626,color:#000;\n")
	sb.WriteString("    classDef rolled_back fill:#e0e7ff,stroke:#4f46e5,color:#000;\n")
	sb.WriteString("    classDef current stroke-width:4px;\n")
	for _, s := range spans {
		fmt.Fprintf(&sb, "    class %s %s;\n", sanitizeMermaidID(s.ID), statusClass(s.Status))
	}
	if overlay != nil && overlay.Current != "" && known[overlay.Current] {
		fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Current))
	}
	return sb.String()
}

// LifecycleMermaid produces a Mermaid state diagram of the legal span transitions.
func LifecycleMermaid() string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&sb, "    [*] --> %s\n", domain.StatusPending)
	for _, from := range domain.SpanStatuses {
		for _, to := range domain.SpanStatuses {
			if domain.CanTransition(from, to) {
				fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
			}
		}
	}
	for _, s := range domain.SpanStatuses {
		if s.Terminal() {
			fmt.Fprintf(&sb, "    %s --> [*]\n", s)
		}
	}
	return sb.String()
}

func statusClass(s domain.SpanStatus) string {
	switch {
	case s.Active():
		return "active"
	case s == domain.StatusCompleted, s == domain.StatusFailed, s == domain.StatusRolledBack:
		return string(s)
	}
	return "pending"
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return "s_" + s
}
