// Package store provides SQLite-backed durable storage for ncflow.
//
// The store holds:
//   - Records: current state plus a version used for compare-and-swap
//   - Events: append-only record history, keyed by (record_id, seq)
//   - Submissions: corrective-action submissions, superseded never deleted
//   - Actors: the actor directory (roles, department)
//   - Activity: the audit trail, one content-addressed entry per event
//   - Notifications: an outbox with pending, sent and failed entries
//   - Lockouts: the last lockout decision per user
//
// # Write Patterns
//
// Record updates go through CompareAndSwap, which bumps the version only if
// the caller's expected version still matches. The record row, new history
// events and submission changes commit in one transaction.
//
// Activity and notification inserts use ON CONFLICT(id) DO NOTHING, so
// retries and sweeps are idempotent.
//
// Writes that hit SQLITE_BUSY or SQLITE_LOCKED are retried with
// exponential backoff.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
