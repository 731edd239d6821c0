/*
Package timeline is the append-only observability sink.

It keeps bounded rings of events, metric samples and audit records, raises alerts on
metric threshold breaches, correlates events into traces and aggregates a health view.
Every other component writes into it; none of them reads it to make decisions.

Queries always return copies. Events, metrics and audit records come back newest first;
traces read oldest first as a causal narrative.
*/
package timeline
