package domain

import (
	"reflect"
	"sort"
)

// ChangeKind classifies a predicted change.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Impact is the overall predicted impact of a diff.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Change is a single predicted change record.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	Target string     `json:"target"`
	Before any        `json:"before,omitempty"`
	After  any        `json:"after,omitempty"`
}

// Diff is the predicted effect of a span. It is produced once per simulation.
type Diff struct {
	Changes    []Change `json:"changes"`
	Impact     Impact   `json:"impact"`
	Reversible bool     `json:"reversible"`
}

// IsEmpty checks if the diff contains any changes.
func (d Diff) IsEmpty() bool {
	return len(d.Changes) == 0
}

// DiffMaps calculates the changes needed to turn before into after.
// The result is sorted by target so equal inputs always produce equal diffs.
func DiffMaps(before, after map[string]any) []Change {
	var changes []Change

	// Added or Modified
	for k, newVal := range after {
		oldVal, exists := before[k]
		if !exists {
			changes = append(changes, Change{Kind: ChangeCreate, Target: k, After: newVal})
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			changes = append(changes, Change{Kind: ChangeUpdate, Target: k, Before: oldVal, After: newVal})
		}
	}

	// Deleted
	for k, oldVal := range before {
		if _, exists := after[k]; !exists {
			changes = append(changes, Change{Kind: ChangeDelete, Target: k, Before: oldVal})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Target < changes[j].Target
	})
	return changes
}

// ImpactOf derives an impact level: any delete is high, any update medium, otherwise low.
func ImpactOf(changes []Change) Impact {
	impact := ImpactLow
	for _, c := range changes {
		switch c.Kind {
		case ChangeDelete:
			return ImpactHigh
		case ChangeUpdate:
			impact = ImpactMedium
		}
	}
	return impact
}
