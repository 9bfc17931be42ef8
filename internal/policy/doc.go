// Package policy implements the pure rules of the non-conformance workflow.
//
// Nothing in this package performs I/O. Every function takes the values it
// needs and returns a decision, so each rule can be tested in isolation:
//
//   - DueDate: severity -> target remediation date
//   - capability predicates: which actor may perform which action
//   - EditableFields: the field-level authorization matrix
//   - Escalation: decline count and escalation derived from history
//   - Lockout: access lock derived from an overdue-record count
//
// Thresholds and due-date offsets come from Settings. DefaultSettings
// returns the values the workflow ships with; internal/compiler builds
// Settings from a CUE policy document.
package policy
