// Package runtime implements the span lifecycle state machine.
//
// A span moves pending → simulating → awaiting_approval → executing → completed or
// failed, and a reversible completed span may be rolled back. Bookkeeping for a span
// happens under a per-span lock; bound procedures run outside it while an in-flight
// flag rejects any second operation on the same span.
package runtime
