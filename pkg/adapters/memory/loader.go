package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
)

// Loader implements ports.PolicyLoader using an in-memory map of JSON documents.
type Loader struct {
	mu       sync.RWMutex
	policies map[string][]byte
}

// NewLoader creates a new Loader with the provided raw data (JSON strings keyed by policy id).
func NewLoader(data map[string]string) *Loader {
	policies := make(map[string][]byte, len(data))
	for k, v := range data {
		policies[k] = []byte(v)
	}
	return &Loader{policies: policies}
}

// NewFromPolicies creates a new Loader from domain objects.
func NewFromPolicies(policies ...domain.Policy) (*Loader, error) {
	l := &Loader{policies: make(map[string][]byte, len(policies))}
	for _, p := range policies {
		if err := l.Put(p); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Put stores or replaces a policy.
func (l *Loader) Put(p domain.Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy missing ID")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy %s: %w", p.ID, err)
	}
	l.mu.Lock()
	l.policies[p.ID] = data
	l.mu.Unlock()
	return nil
}

// Delete removes a policy.
func (l *Loader) Delete(id string) {
	l.mu.Lock()
	delete(l.policies, id)
	l.mu.Unlock()
}

// LoadPolicies decodes and validates every stored policy, ordered by id.
func (l *Loader) LoadPolicies(_ context.Context) ([]domain.Policy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	policies := make([]domain.Policy, 0, len(l.policies))
	for id, data := range l.policies {
		var p domain.Policy
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("policy %s: %w", id, err)
		}
		if p.ID == "" {
			p.ID = id
		}
		policies = append(policies, p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].ID < policies[j].ID })

	if err := governance.ValidatePolicies(policies); err != nil {
		return nil, err
	}
	return policies, nil
}
