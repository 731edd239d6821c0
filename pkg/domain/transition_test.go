package domain

import (
	"errors"
	"testing"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from  SpanStatus
		to    SpanStatus
		valid bool
	}{
		{StatusPending, StatusSimulating, true},
		{StatusSimulating, StatusAwaitingApproval, true},
		{StatusSimulating, StatusFailed, true},
		{StatusAwaitingApproval, StatusExecuting, true},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusFailed, true},
		{StatusCompleted, StatusRolledBack, true},

		{StatusPending, StatusExecuting, false},
		{StatusPending, StatusAwaitingApproval, false},
		{StatusAwaitingApproval, StatusCompleted, false},
		{StatusCompleted, StatusExecuting, false},
		{StatusFailed, StatusSimulating, false},
		{StatusRolledBack, StatusCompleted, false},
		{StatusFailed, StatusRolledBack, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.valid && err != nil {
				t.Errorf("expected valid transition, got %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidState) {
				t.Errorf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}
