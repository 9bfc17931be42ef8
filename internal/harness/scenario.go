package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ncflow/internal/domain"
)

// DefaultStart is the clock start of scenarios that do not set one.
const DefaultStart = "2024-01-01T09:00:00Z"

// Scenario defines a workflow scenario.
// A scenario seeds a cast of actors, drives the engine through a flow of
// steps, and asserts on the final records, outbox and lockout ledger.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is an optional CUE policy document. Omitted fields take the
	// shipped defaults.
	Policy string `yaml:"policy,omitempty"`

	// Start is the RFC 3339 clock start. Defaults to DefaultStart.
	Start string `yaml:"start,omitempty"`

	// Tenant is the tenant every request is made under.
	Tenant string `yaml:"tenant,omitempty"`

	// Actors is the directory the engine resolves users from.
	Actors []ActorDef `yaml:"actors"`

	// Flow is executed in order; each step may carry an expectation.
	Flow []Step `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// ActorDef is one directory entry.
type ActorDef struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name,omitempty"`
	Roles      []string `yaml:"roles"`
	Department string   `yaml:"department,omitempty"`
}

// Step operations.
const (
	OpCreate     = "create"
	OpTransition = "transition"
	OpAdvance    = "advance"
	OpSweep      = "sweep"
	OpGate       = "gate"
)

// Step is one flow entry.
type Step struct {
	// Op is one of create, transition, advance, sweep, gate.
	Op string `yaml:"op"`

	// As is the acting user (create, transition) or the gated user (gate).
	As string `yaml:"as,omitempty"`

	// Record is the alias of the record. A create binds it; later steps
	// refer to it.
	Record string `yaml:"record,omitempty"`

	// Action is the transition action.
	Action string `yaml:"action,omitempty"`

	// Args are the create or transition inputs.
	Args Args `yaml:"args,omitempty"`

	// Days moves the clock forward (advance).
	Days int `yaml:"days,omitempty"`

	// Operation is the operation name checked by a gate step.
	Operation string `yaml:"operation,omitempty"`

	// Expect, when set, is checked against the step outcome.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Args are the inputs of create and transition steps. Dates are
// YYYY-MM-DD; the override target is "status/step".
type Args struct {
	Title                string `yaml:"title,omitempty"`
	Description          string `yaml:"description,omitempty"`
	Department           string `yaml:"department,omitempty"`
	Severity             string `yaml:"severity,omitempty"`
	DueDate              string `yaml:"due_date,omitempty"`
	ResponsibleID        string `yaml:"responsible_id,omitempty"`
	QAComment            string `yaml:"qa_comment,omitempty"`
	ImmediateAction      string `yaml:"immediate_action,omitempty"`
	RootCause            string `yaml:"root_cause,omitempty"`
	CorrectiveAction     string `yaml:"corrective_action,omitempty"`
	PreventiveAction     string `yaml:"preventive_action,omitempty"`
	TargetCompletionDate string `yaml:"target_completion_date,omitempty"`
	ManagerComment       string `yaml:"manager_comment,omitempty"`
	VerifierComment      string `yaml:"verifier_comment,omitempty"`
	Comment              string `yaml:"comment,omitempty"`
	Target               string `yaml:"target,omitempty"`
	ExpectedVersion      int64  `yaml:"expected_version,omitempty"`
}

// Expect is the expected outcome of a step. An empty Error means the
// step must succeed.
type Expect struct {
	// Error is the expected engine error code, e.g. AUTHORIZATION.
	Error string `yaml:"error,omitempty"`

	// Message, when set, must equal the error's display message.
	Message string `yaml:"message,omitempty"`

	// State is the expected "status/step" after a successful step.
	State string `yaml:"state,omitempty"`

	// DueDate is the expected due date after a successful step.
	DueDate string `yaml:"due_date,omitempty"`

	// Sweep holds expected counters of a sweep step, keyed by their JSON
	// names (reminders_sent, escalations_triggered, ...).
	Sweep map[string]int `yaml:"sweep,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of record_state, escalation, notification_count,
	// notified, locked, replay.
	Type string `yaml:"type"`

	// Record is the record alias (record_state, escalation, replay and
	// optionally the notification assertions).
	Record string `yaml:"record,omitempty"`

	// State is the expected "status/step" (record_state).
	State string `yaml:"state,omitempty"`

	DeclineCount *int  `yaml:"decline_count,omitempty"`
	Escalated    *bool `yaml:"escalated,omitempty"`

	// Notification is a notification type (notification_count, notified).
	Notification string `yaml:"notification,omitempty"`

	// Count is the expected number of outbox entries (notification_count).
	Count *int `yaml:"count,omitempty"`

	// Recipients must equal the recipients of some matching entry (notified).
	Recipients []string `yaml:"recipients,omitempty"`

	// User and Locked are checked by locked assertions.
	User   string `yaml:"user,omitempty"`
	Locked *bool  `yaml:"locked,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordState       = "record_state"
	AssertEscalation        = "escalation"
	AssertNotificationCount = "notification_count"
	AssertNotified          = "notified"
	AssertLocked            = "locked"
	AssertReplay            = "replay"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml and *.yml file in dir, sorted by path.
func LoadScenarios(dir string) ([]*Scenario, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that all required fields are present and that
// every step and assertion is well formed.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	actors := make(map[string]bool, len(s.Actors))
	for i, a := range s.Actors {
		if a.ID == "" {
			return fmt.Errorf("actors[%d]: id is required", i)
		}
		if actors[a.ID] {
			return fmt.Errorf("actors[%d]: duplicate id %q", i, a.ID)
		}
		actors[a.ID] = true
		if _, err := domain.ParseRoles(strings.Join(a.Roles, ",")); err != nil {
			return fmt.Errorf("actors[%d]: %w", i, err)
		}
	}

	records := make(map[string]bool)
	for i, step := range s.Flow {
		if err := validateStep(step, records); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, records); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, records map[string]bool) error {
	switch step.Op {
	case OpCreate:
		if step.As == "" {
			return fmt.Errorf("as is required")
		}
		if step.Record == "" {
			return fmt.Errorf("record alias is required")
		}
		if records[step.Record] {
			return fmt.Errorf("record %q is already defined", step.Record)
		}
		records[step.Record] = true
	case OpTransition:
		if step.As == "" {
			return fmt.Errorf("as is required")
		}
		if !records[step.Record] {
			return fmt.Errorf("record %q is not defined by an earlier create", step.Record)
		}
		if !domain.Action(step.Action).Valid() {
			return fmt.Errorf("unknown action %q", step.Action)
		}
	case OpAdvance:
		if step.Days <= 0 {
			return fmt.Errorf("days must be positive")
		}
	case OpSweep:
	case OpGate:
		if step.As == "" {
			return fmt.Errorf("as is required")
		}
		if step.Operation == "" {
			return fmt.Errorf("operation is required")
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}

	if err := step.Args.validate(); err != nil {
		return err
	}
	if step.Expect != nil && step.Expect.State != "" {
		if _, err := domain.ParseState(step.Expect.State); err != nil {
			return fmt.Errorf("expect: %w", err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, records map[string]bool) error {
	needRecord := func() error {
		if !records[a.Record] {
			return fmt.Errorf("record %q is not defined by the flow", a.Record)
		}
		return nil
	}
	switch a.Type {
	case AssertRecordState:
		if err := needRecord(); err != nil {
			return err
		}
		if _, err := domain.ParseState(a.State); err != nil {
			return err
		}
	case AssertEscalation:
		if err := needRecord(); err != nil {
			return err
		}
		if a.DeclineCount == nil && a.Escalated == nil {
			return fmt.Errorf("escalation needs decline_count or escalated")
		}
	case AssertReplay:
		return needRecord()
	case AssertNotificationCount, AssertNotified:
		if a.Notification == "" {
			return fmt.Errorf("notification type is required")
		}
		if a.Record != "" {
			if err := needRecord(); err != nil {
				return err
			}
		}
		if a.Type == AssertNotificationCount && a.Count == nil {
			return fmt.Errorf("count is required")
		}
	case AssertLocked:
		if a.User == "" || a.Locked == nil {
			return fmt.Errorf("locked needs user and locked")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func (a Args) validate() error {
	for name, v := range map[string]string{
		"due_date":               a.DueDate,
		"target_completion_date": a.TargetCompletionDate,
	} {
		if v == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, v); err != nil {
			return fmt.Errorf("args.%s: %w", name, err)
		}
	}
	if a.Target != "" {
		if _, err := domain.ParseState(a.Target); err != nil {
			return fmt.Errorf("args.target: %w", err)
		}
	}
	return nil
}
