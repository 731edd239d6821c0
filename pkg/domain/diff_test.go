package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffMaps(t *testing.T) {
	tests := []struct {
		name     string
		before   map[string]any
		after    map[string]any
		expected []Change
	}{
		{
			name:     "No changes",
			before:   map[string]any{"a": 1},
			after:    map[string]any{"a": 1},
			expected: nil,
		},
		{
			name:   "Added key",
			before: map[string]any{},
			after:  map[string]any{"a": 1},
			expected: []Change{
				{Kind: ChangeCreate, Target: "a", After: 1},
			},
		},
		{
			name:   "Modified and deleted keys are sorted by target",
			before: map[string]any{"b": 1, "a": "x"},
			after:  map[string]any{"b": 2},
			expected: []Change{
				{Kind: ChangeDelete, Target: "a", Before: "x"},
				{Kind: ChangeUpdate, Target: "b", Before: 1, After: 2},
			},
		},
		{
			name:     "Nested values compare deeply",
			before:   map[string]any{"cfg": map[string]any{"x": []int{1}}},
			after:    map[string]any{"cfg": map[string]any{"x": []int{1}}},
			expected: nil,
		},
		{
			name:   "Nil before treats everything as created",
			before: nil,
			after:  map[string]any{"k": true},
			expected: []Change{
				{Kind: ChangeCreate, Target: "k", After: true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DiffMaps(tt.before, tt.after))
		})
	}
}

func TestImpactOf(t *testing.T) {
	assert.Equal(t, ImpactLow, ImpactOf(nil))
	assert.Equal(t, ImpactLow, ImpactOf([]Change{{Kind: ChangeCreate}}))
	assert.Equal(t, ImpactMedium, ImpactOf([]Change{{Kind: ChangeCreate}, {Kind: ChangeUpdate}}))
	assert.Equal(t, ImpactHigh, ImpactOf([]Change{{Kind: ChangeUpdate}, {Kind: ChangeDelete}}))
}
