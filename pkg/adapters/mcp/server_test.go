package mcp

import (
	"context"
	"testing"

	"github.com/aretw0/warden"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/registry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *registry.KV) {
	t.Helper()
	reg := registry.NewRegistry()
	kv := registry.NewKV()
	registry.RegisterKV(reg, kv)
	w, err := warden.New(warden.WithRegistry(reg))
	require.NoError(t, err)
	return NewServer(w), kv
}

func TestAgentDrivesSpanThroughApproval(t *testing.T) {
	s, kv := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	span, err := s.handleCreate(ctx, req, CreateArgs{
		Operation: "kv.put",
		Args:      map[string]any{"key": "mode", "value": "on"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, span.Status)

	diff, err := s.handleSimulate(ctx, req, SpanArgs{SpanID: span.ID})
	require.NoError(t, err)
	assert.True(t, diff.Reversible)

	v, err := s.handleValidate(ctx, req, SpanArgs{SpanID: span.ID})
	require.NoError(t, err)
	assert.False(t, v.CanExecute)
	require.NotEmpty(t, v.ApprovalID)

	_, err = s.handleExecute(ctx, req, SpanArgs{SpanID: span.ID})
	require.ErrorIs(t, err, domain.ErrNotAuthorized)

	approval, err := s.decide(domain.DecisionApproved)(ctx, req, DecisionArgs{
		ApprovalID: v.ApprovalID,
		ApproverID: governance.RoleTeamLead,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, approval.Status)

	res, err := s.handleExecute(ctx, req, SpanArgs{SpanID: span.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Span.Status)
	assert.Equal(t, "on", kv.Snapshot()["mode"])

	rolled, err := s.handleRollback(ctx, req, SpanArgs{SpanID: span.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRolledBack, rolled.Status)
	assert.NotContains(t, kv.Snapshot(), "mode")
}

func TestRejectVetoes(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	span, err := s.handleCreate(ctx, req, CreateArgs{Operation: "kv.put", Args: map[string]any{"key": "a", "value": 1}})
	require.NoError(t, err)
	_, err = s.handleSimulate(ctx, req, SpanArgs{SpanID: span.ID})
	require.NoError(t, err)
	v, err := s.handleValidate(ctx, req, SpanArgs{SpanID: span.ID})
	require.NoError(t, err)

	approval, err := s.decide(domain.DecisionRejected)(ctx, req, DecisionArgs{
		ApprovalID: v.ApprovalID,
		ApproverID: governance.RoleTeamLead,
		Comment:    "not today",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, approval.Status)

	_, err = s.decide(domain.DecisionApproved)(ctx, req, DecisionArgs{ApprovalID: v.ApprovalID, ApproverID: "mallory"})
	assert.Error(t, err)
}

func TestCreateUnknownOperation(t *testing.T) {
	s, _ := newTestServer(t)
	_, err := s.handleCreate(context.Background(), mcp.CallToolRequest{}, CreateArgs{Operation: "db.drop"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueryEventsFiltersBySpan(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	a, err := s.handleCreate(ctx, req, CreateArgs{Operation: "kv.get", Args: map[string]any{"key": "x"}, User: "bob"})
	require.NoError(t, err)
	_, err = s.handleCreate(ctx, req, CreateArgs{Operation: "kv.get", Args: map[string]any{"key": "y"}})
	require.NoError(t, err)
	_, err = s.handleSimulate(ctx, req, SpanArgs{SpanID: a.ID})
	require.NoError(t, err)

	res, err := s.handleQueryEvents(ctx, req, EventArgs{SpanID: a.ID})
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	for _, e := range res.Events {
		assert.Equal(t, a.ID, e.SpanID)
	}
	assert.Equal(t, "bob", res.Events[len(res.Events)-1].UserID)

	res, err = s.handleQueryEvents(ctx, req, EventArgs{Type: string(domain.EventSpanCreated), Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Events, 1)
}

func TestContractTools(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	span, err := s.handleCreate(ctx, req, CreateArgs{
		Operation: "kv.put",
		Args:      map[string]any{"key": "contact", "value": "jane@example.com"},
	})
	require.NoError(t, err)

	c, err := s.handleGenerateContract(ctx, req, ContractArgs{SpanID: span.ID})
	require.NoError(t, err)
	assert.Contains(t, c.PIITypes, "email")
	assert.Equal(t, domain.ContractPending, c.Status)

	signed, err := s.handleSignContract(ctx, req, ContractArgs{ContractID: c.ID, User: "dpo"})
	require.NoError(t, err)
	assert.Equal(t, domain.ContractSigned, signed.Status)
	assert.Equal(t, "dpo", signed.SignedBy)
}
