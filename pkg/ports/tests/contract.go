package tests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/warden/pkg/ports"
)

// PolicyLoaderContractTest verifies that an adapter complies with ports.PolicyLoader.
// expected maps policy ids to their rule counts.
func PolicyLoaderContractTest(t *testing.T, loader ports.PolicyLoader, expected map[string]int) {
	t.Helper()

	policies, err := loader.LoadPolicies(context.Background())
	if err != nil {
		t.Fatalf("unexpected error loading policies: %v", err)
	}

	if len(policies) != len(expected) {
		t.Fatalf("expected %d policies, got %d", len(expected), len(policies))
	}

	for _, p := range policies {
		rules, ok := expected[p.ID]
		if !ok {
			t.Errorf("unexpected policy %q", p.ID)
			continue
		}
		if len(p.Rules) != rules {
			t.Errorf("policy %s: expected %d rules, got %d", p.ID, rules, len(p.Rules))
		}
		for _, r := range p.Rules {
			if !r.Kind.Valid() {
				t.Errorf("policy %s: rule %s has invalid kind %q", p.ID, r.ID, r.Kind)
			}
		}
	}
}

// DistributedLockerContractTest verifies mutual exclusion and release for a ports.DistributedLocker.
func DistributedLockerContractTest(t *testing.T, locker ports.DistributedLocker) {
	t.Helper()
	ctx := context.Background()

	t.Run("LockUnlock", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "contract-a", 5*time.Second)
		if err != nil {
			t.Fatalf("lock failed: %v", err)
		}
		if err := unlock(ctx); err != nil {
			t.Fatalf("unlock failed: %v", err)
		}
	})

	t.Run("Contention", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "contract-b", 5*time.Second)
		if err != nil {
			t.Fatalf("lock failed: %v", err)
		}

		short, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
		defer cancel()
		if _, err := locker.Lock(short, "contract-b", 5*time.Second); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded while held, got %v", err)
		}

		if err := unlock(ctx); err != nil {
			t.Fatalf("unlock failed: %v", err)
		}

		unlock2, err := locker.Lock(ctx, "contract-b", 5*time.Second)
		if err != nil {
			t.Fatalf("lock after release failed: %v", err)
		}
		_ = unlock2(ctx)
	})
}
