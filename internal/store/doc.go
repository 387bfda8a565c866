// Package store persists all durable scheduler state in SQLite: projects,
// items, queues and their memberships, assignments, committed labels, the
// append-only IRR history, recycle entries, uncertainty scores, training
// sets, and admin leases.
//
// The store is the single source of truth; the cache package holds only a
// derived projection of queue membership that can always be rebuilt from
// here. Multi-table state changes (label commit, IRR resolution, skips,
// discards, adjudication) run as single transactions so the uniqueness
// invariants hold under concurrent annotators: queue_members keys on
// item_id (one queue per item) and assignments are unique per
// (annotator, item).
//
// Schema changes bump schemaVersion in schema.go; opening a database with a
// different version fails with ErrSchemaMismatch and the process must halt
// until the operator migrates.
package store
