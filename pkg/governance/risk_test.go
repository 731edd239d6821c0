package governance_test

import (
	"testing"
	"time"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/stretchr/testify/assert"
)

func TestAssess_Scores(t *testing.T) {
	tests := []struct {
		typ        domain.SpanType
		reversible bool
		score      int
		level      domain.RiskLevel
	}{
		{domain.SpanNavigation, false, 6, domain.RiskLow},
		{domain.SpanRead, false, 3, domain.RiskLow},
		{domain.SpanComputation, false, 2, domain.RiskLow},
		{domain.SpanWrite, true, 12, domain.RiskMedium},
		{domain.SpanWrite, false, 37, domain.RiskCritical},
		{domain.SpanGUIAutomation, false, 37, domain.RiskCritical},
		{domain.SpanIO, true, 8, domain.RiskLow},
		{domain.SpanIO, false, 33, domain.RiskHigh},
	}

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			ra := governance.Assess(domain.Span{ID: "s", Type: tt.typ, Reversible: tt.reversible}, now)
			assert.Equal(t, tt.score, ra.Score)
			assert.Equal(t, tt.level, ra.Level)
			assert.Equal(t, now, ra.AssessedAt)
		})
	}
}

func TestAssess_DeterministicAndMetadataBlind(t *testing.T) {
	now := time.Now()
	a := governance.Assess(domain.Span{ID: "s", Type: domain.SpanWrite, Metadata: map[string]any{"domain": "x"}}, now)
	b := governance.Assess(domain.Span{ID: "s", Type: domain.SpanWrite}, now)
	assert.Equal(t, a, b)
}
