/*
Package warden runs risky operations as governed, reversible spans.

A span wraps one unit of external work (a write, a file operation, a page visit)
together with optional simulate and rollback procedures. Every span follows the
same lifecycle:

	pending -> simulating -> awaiting_approval -> executing -> completed -> rolled_back
	                 \-> failed                       \-> failed

Before a span may execute, governance scores its risk, scans its arguments for
personal data and matches it against the active policies. Depending on the outcome
the span runs immediately, waits for a quorum of approvers, requires a signed data
handling contract, or is blocked. Every transition, decision and alert is recorded
on an in-memory timeline that can be queried, traced and forwarded to sinks.

# Usage

	reg := registry.NewRegistry()
	registry.RegisterKV(reg, registry.NewKV())

	w, err := warden.New(warden.WithRegistry(reg))
	if err != nil {
		log.Fatal(err)
	}

	ctx := domain.WithActor(context.Background(), domain.Actor{ID: "alice"})
	span, _ := w.Create(ctx, warden.SpanRequest{Operation: "kv.put", Args: map[string]any{"key": "k", "value": 1}})

	v, result, err := w.Run(ctx, span.ID)
	if err == nil && !v.CanExecute {
		// collect approvals for v.ApprovalID, then call w.Execute
	}

# Architecture

  - internal/runtime: the span state machine.
  - pkg/governance: risk, PII, policies, approvals and contracts.
  - pkg/timeline: events, metrics, audit records, alerts, traces and health.
  - pkg/registry: the catalog of named operations spans are built from.
  - pkg/adapters: HTTP, MCP, Redis and Loam integrations.
*/
package warden
