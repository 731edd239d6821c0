/*
Package observability exports warden activity to external monitoring systems.

It provides Prometheus collectors fed by lifecycle hooks and timeline listeners, a
host sampler that records CPU and memory usage as timeline metrics, and an
OpenTelemetry tracer provider for the engine's per-operation spans.
*/
package observability
