/*
Package domain contains the core types shared by the span engine, governance and timeline.

It defines the span state machine, operation bindings and diffs, policy and risk models,
approvals, contracts and timeline records. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal Architecture principles.

# Key Entities

  - Span: a unit of governed, potentially reversible work.
  - Binding: the forward, rollback and simulate procedures bound to a span.
  - Diff: the predicted effect of a span, produced by simulation.
  - Policy: an ordered list of rules deciding whether a span may proceed.
  - Approval: a quorum approval gating a risky span.
  - Event: an immutable timeline record.
*/
package domain
