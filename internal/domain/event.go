package domain

import "time"

// EventAction is the closed set of history event variants.
type EventAction string

const (
	EventCreated              EventAction = "created"
	EventClassified           EventAction = "classified"
	EventRemediationSubmitted EventAction = "remediation_submitted"
	EventManagerApproved      EventAction = "manager_approved"
	EventManagerDeclined      EventAction = "manager_declined"
	EventVerified             EventAction = "verified"
	EventVerificationRejected EventAction = "verification_rejected"
	EventAdminOverride        EventAction = "admin_override"
)

// Valid reports whether a is a known event action.
func (a EventAction) Valid() bool {
	switch a {
	case EventCreated, EventClassified, EventRemediationSubmitted, EventManagerApproved,
		EventManagerDeclined, EventVerified, EventVerificationRejected, EventAdminOverride:
		return true
	}
	return false
}

// Event is one entry of a record's append-only history.
type Event struct {
	Seq       int64       `json:"seq"`
	Action    EventAction `json:"action"`
	ActorID   string      `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Comment   string      `json:"comment,omitempty"`
	From      State       `json:"from"`
	To        State       `json:"to"`
}
