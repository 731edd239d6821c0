package loam

import (
	"context"
	"testing"

	"github.com/aretw0/loam"
	"github.com/aretw0/loam/pkg/core"

	"github.com/aretw0/warden/internal/testutils"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productionPolicy = `---
id: production
name: Production safeguards
rules:
  - id: no-purge
    kind: deny
    condition:
      span_types: [io]
      domains: ["*.prod.example.com"]
  - id: writes-need-approval
    kind: require-approval
    priority: 10
    condition:
      span_types: [write]
---
Writes against production need a human in the loop.`

const readPolicy = `---
id: reads
rules:
  - id: allow-reads
    kind: allow
    condition:
      span_types: [read]
---
Reads are always fine.`

func TestLoader_Contract(t *testing.T) {
	_, repo := testutils.NewPolicyRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, core.Document{ID: "production.md", Content: productionPolicy}))
	require.NoError(t, repo.Save(ctx, core.Document{ID: "reads.md", Content: readPolicy}))

	loader := New(loam.NewTypedRepository[PolicyMetadata](repo))
	tests.PolicyLoaderContractTest(t, loader, map[string]int{"production": 2, "reads": 1})
}

func TestLoader_DecodesRules(t *testing.T) {
	_, repo := testutils.NewPolicyRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, core.Document{ID: "production.md", Content: productionPolicy}))

	policies, err := New(loam.NewTypedRepository[PolicyMetadata](repo)).LoadPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.Equal(t, "Production safeguards", p.Name)
	assert.True(t, p.Enabled, "policies are enabled unless stated otherwise")

	deny := p.Rules[0]
	assert.Equal(t, domain.RuleDeny, deny.Kind)
	assert.Equal(t, []domain.SpanType{domain.SpanIO}, deny.Condition.SpanTypes)
	assert.Equal(t, []string{"*.prod.example.com"}, deny.Condition.Domains)
	assert.Equal(t, 10, p.Rules[1].Priority)
}

func TestLoader_IDFallsBackToFilename(t *testing.T) {
	dir, repo := testutils.NewPolicyRepo(t)

	content := `---
enabled: false
rules:
  - id: r1
    kind: allow
---
`
	testutils.WriteFiles(t, dir, map[string]string{"implicit.md": content})

	policies, err := New(loam.NewTypedRepository[PolicyMetadata](repo)).LoadPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, "implicit", policies[0].ID)
	assert.Equal(t, "implicit", policies[0].Name)
	assert.False(t, policies[0].Enabled)
}

func TestLoader_DetectsCollisions(t *testing.T) {
	dir, repo := testutils.NewPolicyRepo(t)

	testutils.WriteFiles(t, dir, map[string]string{
		"foo.md": "---\nid: foo\nrules: []\n---\n",
		"bar.md": "---\nid: foo\nrules: []\n---\n",
	})

	_, err := New(loam.NewTypedRepository[PolicyMetadata](repo)).LoadPolicies(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collision detected")
}

func TestLoader_RejectsInvalidRules(t *testing.T) {
	_, repo := testutils.NewPolicyRepo(t)
	ctx := context.Background()

	bad := `---
id: bad
rules:
  - id: r1
    kind: maybe
  - id: r2
    kind: allow
    condition:
      window:
        start: "25:00"
---
`
	require.NoError(t, repo.Save(ctx, core.Document{ID: "bad.md", Content: bad}))

	_, err := New(loam.NewTypedRepository[PolicyMetadata](repo)).LoadPolicies(ctx)
	require.Error(t, err)
	assert.Len(t, governance.ValidationErrors(err), 2)
}

func TestLoader_RejectsUnknownRuleFields(t *testing.T) {
	_, repo := testutils.NewPolicyRepo(t)
	ctx := context.Background()

	doc := "---\nid: typo\nrules:\n  - id: r1\n    kind: allow\n    conditon: {}\n---\n"
	require.NoError(t, repo.Save(ctx, core.Document{ID: "typo.md", Content: doc}))

	_, err := New(loam.NewTypedRepository[PolicyMetadata](repo)).LoadPolicies(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "typo.md")
}
