package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/warden/internal/presentation/graph"
	"github.com/aretw0/warden/pkg/domain"
)

func TestSpanMermaid(t *testing.T) {
	tests := []struct {
		name     string
		spans    []domain.Span
		overlay  *graph.Overlay
		contains []string
		excludes []string
	}{
		{
			name: "Shapes By Type",
			spans: []domain.Span{
				{ID: "r", Type: domain.SpanRead, Status: domain.StatusPending},
				{ID: "w", Type: domain.SpanWrite, Status: domain.StatusPending},
				{ID: "g", Type: domain.SpanGUIAutomation, Status: domain.StatusPending},
				{ID: "c", Type: domain.SpanComputation, Status: domain.StatusPending},
			},
			contains: []string{
				`s_r[/"read <br/> pending"/]`,
				`s_w[["write <br/> pending"]]`,
				`s_g(("gui-automation <br/> pending"))`,
				`s_c["computation <br/> pending"]`,
			},
		},
		{
			name: "Operation Label And ID Sanitization",
			spans: []domain.Span{
				{ID: "a-1.b", Type: domain.SpanWrite, Status: domain.StatusCompleted, Metadata: map[string]any{"operation": "kv.put"}},
			},
			contains: []string{
				`s_a_1_b[["kv.put <br/> completed"]]`,
				"class s_a_1_b completed;",
			},
		},
		{
			name: "Parent Edges",
			spans: []domain.Span{
				{ID: "p", Type: domain.SpanComputation, Status: domain.StatusExecuting},
				{ID: "c1", ParentID: "p", Type: domain.SpanWrite, Reversible: true, Status: domain.StatusPending},
				{ID: "c2", ParentID: "p", Type: domain.SpanIO, Status: domain.StatusFailed},
				{ID: "orphan", ParentID: "gone", Type: domain.SpanRead, Status: domain.StatusPending},
			},
			contains: []string{
				"s_p --> s_c1",
				"s_p -.-> s_c2",
				"class s_p active;",
				"class s_c2 failed;",
			},
			excludes: []string{"s_gone"},
		},
		{
			name:     "Overlay",
			spans:    []domain.Span{{ID: "x", Type: domain.SpanRead, Status: domain.StatusAwaitingApproval}},
			overlay:  &graph.Overlay{Current: "x"},
			contains: []string{"class s_x current;"},
		},
		{
			name:     "Empty",
			contains: []string{"graph TD"},
			excludes: []string{"classDef"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.SpanMermaid(tt.spans, tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("SpanMermaid() missing %q\nGot:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("SpanMermaid() should not contain %q\nGot:\n%s", bad, got)
				}
			}
		})
	}
}

func TestLifecycleMermaid(t *testing.T) {
	got := graph.LifecycleMermaid()
	for _, want := range []string{
		"[*] --> pending",
		"pending --> simulating",
		"simulating --> failed",
		"awaiting_approval --> executing",
		"completed --> rolled_back",
		"rolled_back --> [*]",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("LifecycleMermaid() missing %q\nGot:\n%s", want, got)
		}
	}
	if strings.Contains(got, "pending --> executing") {
		t.Error("LifecycleMermaid() contains an illegal transition")
	}
}
