package domain

import (
	"fmt"
	"strings"
)

// Status is the lifecycle status of a non-conformance record.
type Status string

const (
	StatusOpen                Status = "open"
	StatusInProgress          Status = "in_progress"
	StatusPendingReview       Status = "pending_review"
	StatusPendingVerification Status = "pending_verification"
	StatusClosed              Status = "closed"
	StatusRejected            Status = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusOpen,
	StatusInProgress,
	StatusPendingReview,
	StatusPendingVerification,
	StatusClosed,
	StatusRejected,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no non-admin action may leave s.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusRejected
}

// Step is the numbered workflow stage, 1 through 6.
type Step int

const (
	StepClassification Step = 1
	StepInvestigation  Step = 2
	StepRework         Step = 3
	StepReview         Step = 4
	StepVerification   Step = 5
	StepFinalApproval  Step = 6
)

const (
	MinStep = StepClassification
	MaxStep = StepFinalApproval
)

// Valid reports whether s is inside the step range.
func (s Step) Valid() bool {
	return s >= MinStep && s <= MaxStep
}

// State is a (status, step) pair.
type State struct {
	Status Status `json:"status"`
	Step   Step   `json:"step"`
}

func (s State) String() string {
	return fmt.Sprintf("%s/%d", s.Status, s.Step)
}

// validStates is the closed set of (status, step) pairs a record may hold.
// Closed records always sit on the final step; rejected records keep the
// verification step they were rejected in.
var validStates = map[State]bool{
	{StatusOpen, StepClassification}:              true,
	{StatusInProgress, StepInvestigation}:         true,
	{StatusInProgress, StepRework}:                true,
	{StatusPendingReview, StepReview}:             true,
	{StatusPendingReview, StepFinalApproval}:      true,
	{StatusPendingVerification, StepVerification}: true,
	{StatusClosed, StepFinalApproval}:             true,
	{StatusRejected, StepVerification}:            true,
}

// ValidState reports whether (status, step) is a pair the workflow can produce.
func ValidState(status Status, step Step) bool {
	return validStates[State{Status: status, Step: step}]
}

// ParseState parses "status/step", e.g. "pending_review/6".
func ParseState(s string) (State, error) {
	status, stepStr, ok := strings.Cut(s, "/")
	if !ok {
		return State{}, fmt.Errorf("invalid state %q: expected status/step", s)
	}
	var step int
	if _, err := fmt.Sscanf(stepStr, "%d", &step); err != nil {
		return State{}, fmt.Errorf("invalid state %q: step must be a number", s)
	}
	st := State{Status: Status(status), Step: Step(step)}
	if !ValidState(st.Status, st.Step) {
		return State{}, fmt.Errorf("invalid state %q: not a workflow state", s)
	}
	return st, nil
}

// Severity classifies how urgent a non-conformance is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Severities lists every severity from most to least urgent.
var Severities = []Severity{SeverityCritical, SeverityMajor, SeverityMinor}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityCritical || s == SeverityMajor || s == SeverityMinor
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity %q: must be one of critical, major, minor", s)
	}
	return sev, nil
}

// Action is a workflow command an actor asks the engine to apply.
type Action string

const (
	ActionClassify          Action = "classify"
	ActionSubmitRemediation Action = "submit_remediation"
	ActionApprove           Action = "approve"
	ActionDecline           Action = "decline"
	ActionVerifyApprove     Action = "verify_approve"
	ActionVerifyReject      Action = "verify_reject"
	ActionAdminOverride     Action = "admin_override"
)

// Actions lists every workflow action.
var Actions = []Action{
	ActionClassify,
	ActionSubmitRemediation,
	ActionApprove,
	ActionDecline,
	ActionVerifyApprove,
	ActionVerifyReject,
	ActionAdminOverride,
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}
