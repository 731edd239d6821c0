package domain

import "fmt"

var validTransitions = map[SpanStatus]map[SpanStatus]bool{
	StatusPending: {
		StatusSimulating: true,
	},
	StatusSimulating: {
		StatusAwaitingApproval: true,
		StatusFailed:           true,
	},
	StatusAwaitingApproval: {
		StatusExecuting: true,
	},
	StatusExecuting: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {
		StatusRolledBack: true,
	},
	StatusFailed:     {},
	StatusRolledBack: {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to SpanStatus) bool {
	return validTransitions[from][to]
}

// ValidateTransition returns ErrInvalidState when the move is illegal.
func ValidateTransition(from, to SpanStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, from, to)
	}
	return nil
}
