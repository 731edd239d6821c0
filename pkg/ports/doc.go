/*
Package ports defines the driven ports (interfaces) between the span engine, governance,
the timeline and their adapters.

These interfaces keep the core free of infrastructure, so the same engine runs with
in-memory collaborators in tests and with Redis or a loam repository in production.

# Key Interfaces

  - Timeline: the write side of the observability store (events, audit, alerts).
  - SpanReader: read-only span snapshots for governance.
  - ExecutionGate: decides whether a span may enter execution.
  - PolicyLoader: retrieves policy definitions from a backing source.
  - DistributedLocker: cross-process locks around external side effects.
*/
package ports
