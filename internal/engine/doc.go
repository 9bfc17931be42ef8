// Package engine implements the ncflow workflow rules engine.
//
// The engine decides, for a non-conformance record:
//   - which state transitions are legal (the transition table)
//   - which fields an actor may change (policy.EditableFields)
//   - when repeated declines escalate to administrators
//   - when overdue obligations lock a user out
//
// ARCHITECTURE:
//
// Every operation is a synchronous call that either returns the updated
// record or a typed *Error. A transition runs in this order:
//
//  1. Resolve the actor through the ActorDirectory
//  2. Load the record (tenant-scoped) and check the expected version
//  3. Check terminal status, the transition table row, the required
//     capability, the payload, and the touched fields
//  4. Compare-and-swap the new record (history and submissions commit
//     atomically with it)
//  5. Append one audit entry per new history event
//  6. Write notifications to the outbox and deliver them, time-bounded
//
// Steps 5 and 6 never fail a committed transition. Missing audit entries
// and undelivered notifications are repaired by RunScheduledSweep.
//
// IDEMPOTENCY:
//
// Audit entry ids derive from (record, seq, action) and notification ids
// from (type, subject, occurrence). Re-running a sweep, or re-appending an
// entry, never produces duplicates.
package engine
