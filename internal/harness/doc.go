// Package harness runs workflow scenarios against a real engine.
//
// A scenario seeds an actor directory, drives the engine through a flow of
// steps on a fresh in-memory SQLite store, and asserts on the records,
// notification outbox and lockout decisions left behind. Every run uses a
// deterministic clock and sequential ids, so its trace can be compared
// against a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: decline_escalation
//	description: "Three declines escalate to admins exactly once"
//	start: 2024-01-01T09:00:00Z     # optional clock start
//	policy: |                        # optional CUE policy document
//	  escalation: decline_threshold: 3
//	actors:
//	  - id: qa
//	    roles: [qa]
//	  - id: rp
//	    roles: [responsible_person]
//	    department: assembly
//	flow:
//	  - op: create
//	    as: rp
//	    record: nc
//	    args: { title: "Burr on housing", department: assembly }
//	    expect: { state: open/1, due_date: "2024-01-31" }
//	  - op: transition
//	    as: qa
//	    record: nc
//	    action: classify
//	    args: { severity: critical, responsible_id: rp }
//	  - op: advance
//	    days: 3
//	  - op: sweep
//	    expect: { sweep: { reminders_sent: 1 } }
//	  - op: gate
//	    as: rp
//	    operation: create_record
//	    expect: { error: AUTHORIZATION }
//	assertions:
//	  - type: notification_count
//	    notification: record_escalated
//	    count: 1
//
// # Steps
//
//   - create: Create as the given user; binds the record alias
//   - transition: Transition on the aliased record
//   - advance: move the clock forward by whole days
//   - sweep: RunScheduledSweep
//   - gate: the access check for a user and operation
//
// A step without expect must succeed. With expect.error set, the step must
// fail with that engine error code (and expect.message, when given).
//
// # Assertion Types
//
//   - record_state: the stored status/step of a record
//   - escalation: decline count and escalated flag of a record
//   - notification_count: outbox entries of a type (optionally per record)
//   - notified: some outbox entry of a type went to exactly these recipients
//   - locked: a user's live lockout decision
//   - replay: the record's history replays to its stored state
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/escalation.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
