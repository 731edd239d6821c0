// Package redis provides Redis-backed infrastructure: a distributed locker that
// guards external targets across replicas, and a stream sink that exports timeline
// events with XADD.
package redis
