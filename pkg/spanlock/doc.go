/*
Package spanlock serializes work on a single key (usually a span id).

Locks are created on demand and garbage collected by reference counting, so the lock
map never grows beyond the number of keys currently in use. An optional
ports.DistributedLocker guards external resources across processes.
*/
package spanlock
