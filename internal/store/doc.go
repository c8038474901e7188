// Package store provides SQLite-backed durable storage for Vellum.
//
// The store persists five kinds of state:
//   - Branches: the branch forest, with frozen flags and insertion order
//   - Branch members: copy-on-branch document membership
//   - Documents: content-addressed document versions, keyed by hash
//   - Snapshots/Commits: the immutable versioning log
//   - Refs: named pointers (branch, name) -> commit hash
//
// # Critical Patterns
//
// Content addressing is identity: document rows are keyed by their content
// hash and inserted with ON CONFLICT DO NOTHING, so re-writing identical
// content is a no-op and nothing ever mutates a stored version in place.
//
// All multi-row queries include a deterministic ORDER BY (seq, pos, or
// COLLATE BINARY on a key column) so reads are stable across runs.
//
// Atomicity lives here: WithTx exposes SQLite's native transaction as the
// scoped-acquisition primitive the versioning core builds its atomic save
// from ({documents, snapshot, commit, ref} all-or-nothing).
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
