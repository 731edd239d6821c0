/*
Package governance decides whether a span may proceed.

It assesses risk from the span type and reversibility, scans span arguments for personal
data, matches declarative policies, and runs a quorum approval workflow for spans that
may not proceed unconditionally. ValidateSpanExecution is the single composed entry
point; its outcome is remembered so that Authorize can gate the engine's execute step.

Governance never executes spans itself. It only reads span snapshots through
ports.SpanReader and writes events, audit records and alerts to a ports.Timeline.
*/
package governance
