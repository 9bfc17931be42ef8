// Package domain provides the types shared by every ncflow package.
//
// This package contains type definitions only. All other internal packages
// import domain; domain imports nothing internal. Policies, the engine and
// the store all exchange these values.
//
// Key design constraints:
//   - Status, Step, Severity, Role, Action and EventAction are closed sets;
//     use the Valid methods before trusting input from outside the process
//   - History is append-only; derived values (decline count, escalation)
//     are folded from it, never stored as counters
//   - Activity and notification ids are content-addressed so that repeated
//     appends and sends are idempotent
//   - All JSON tags use snake_case
package domain
