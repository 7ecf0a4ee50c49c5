// Package store persists client state across restarts.
//
// Two layers live here. FileStorage is a small key-value store backed by a
// single JSON file with atomic replace-on-write; it implements
// domain.Storage for every subsystem that needs a persisted blob (state
// snapshots, the room routing cache, the standby room). State is the
// in-memory chat state store: it hydrates once from storage, serializes
// updates, merges room deltas, persists the preserved fields and notifies
// subscribed listeners.
package store
