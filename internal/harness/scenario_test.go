package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalFlow = `
actors:
  - id: qa
    roles: [qa]
flow:
  - op: create
    as: qa
    record: nc
    args: { title: "Burr" }
`

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
start: 2024-03-01T08:00:00Z
actors:
  - id: qa
    roles: [qa]
  - id: rp
    roles: [responsible_person]
    department: assembly
flow:
  - op: create
    as: qa
    record: nc
    args: { title: "Burr", department: assembly, severity: major }
    expect: { state: open/1, due_date: "2024-03-08" }
  - op: transition
    as: qa
    record: nc
    action: classify
    args: { responsible_id: rp, due_date: "2024-03-05" }
assertions:
  - type: record_state
    record: nc
    state: in_progress/2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Len(t, scenario.Actors, 2)
	assert.Equal(t, []string{"responsible_person"}, scenario.Actors[1].Roles)
	assert.Equal(t, "assembly", scenario.Actors[1].Department)
	require.Len(t, scenario.Flow, 2)
	assert.Equal(t, OpCreate, scenario.Flow[0].Op)
	assert.Equal(t, "major", scenario.Flow[0].Args.Severity)
	require.NotNil(t, scenario.Flow[0].Expect)
	assert.Equal(t, "2024-03-08", scenario.Flow[0].Expect.DueDate)
	assert.Equal(t, "2024-03-05", scenario.Flow[1].Args.DueDate)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MalformedYAML(t *testing.T) {
	_, err := ParseScenario([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	tests := map[string]string{
		"top level": "name: x\nassertion: []\n" + minimalFlow,
		"step":      "name: x\nflow:\n  - op: sweep\n    invoke: Cart.addItem\n",
		"args":      "name: x\nflow:\n  - op: create\n    as: qa\n    record: nc\n    args: { titel: Burr }\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "failed to parse YAML")
		})
	}
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing name", minimalFlow, "name is required"},
		{"missing flow", "name: x\n", "flow must have at least one step"},
		{"bad start", "name: x\nstart: yesterday\n" + minimalFlow, "start"},
		{"bad role", "name: x\nactors:\n  - id: a\n    roles: [wizard]\nflow:\n  - op: sweep\n", `invalid role "wizard"`},
		{"duplicate actor", "name: x\nactors:\n  - id: a\n    roles: [qa]\n  - id: a\n    roles: [qa]\nflow:\n  - op: sweep\n", `duplicate id "a"`},
		{"missing op", "name: x\nflow:\n  - as: qa\n", "flow[0]: op is required"},
		{"unknown op", "name: x\nflow:\n  - op: teleport\n", `flow[0]: unknown op "teleport"`},
		{"create without alias", "name: x\nflow:\n  - op: create\n    as: qa\n", "flow[0]: record alias is required"},
		{"duplicate alias", "name: x\nflow:\n  - {op: create, as: qa, record: nc}\n  - {op: create, as: qa, record: nc}\n", `flow[1]: record "nc" is already defined`},
		{"undefined record", "name: x\nflow:\n  - {op: transition, as: qa, record: nc, action: approve}\n", `flow[0]: record "nc" is not defined`},
		{"unknown action", "name: x\nflow:\n  - {op: create, as: qa, record: nc}\n  - {op: transition, as: qa, record: nc, action: bless}\n", `flow[1]: unknown action "bless"`},
		{"zero advance", "name: x\nflow:\n  - {op: advance}\n", "flow[0]: days must be positive"},
		{"gate without operation", "name: x\nflow:\n  - {op: gate, as: rp}\n", "flow[0]: operation is required"},
		{"bad date", "name: x\nflow:\n  - {op: create, as: qa, record: nc, args: {due_date: 01/02/2024}}\n", "args.due_date"},
		{"bad target", "name: x\nflow:\n  - {op: create, as: qa, record: nc, args: {target: closed/2}}\n", "args.target"},
		{"bad expected state", "name: x\nflow:\n  - {op: create, as: qa, record: nc, expect: {state: open}}\n", "expect"},
		{"assertion without type", "name: x\n" + minimalFlow + "assertions:\n  - record: nc\n", "assertions[0]: type is required"},
		{"unknown assertion", "name: x\n" + minimalFlow + "assertions:\n  - type: trace_contains\n", `unknown assertion type "trace_contains"`},
		{"assertion on unknown record", "name: x\n" + minimalFlow + "assertions:\n  - {type: replay, record: other}\n", `record "other" is not defined by the flow`},
		{"count without count", "name: x\n" + minimalFlow + "assertions:\n  - {type: notification_count, notification: record_created}\n", "count is required"},
		{"locked without user", "name: x\n" + minimalFlow + "assertions:\n  - {type: locked, locked: true}\n", "locked needs user and locked"},
		{"empty escalation", "name: x\n" + minimalFlow + "assertions:\n  - {type: escalation, record: nc}\n", "escalation needs decline_count or escalated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ZeroCountAllowed(t *testing.T) {
	content := "name: x\n" + minimalFlow + `
assertions:
  - type: notification_count
    notification: record_escalated
    count: 0
`
	scenario, err := ParseScenario([]byte(content))
	require.NoError(t, err)
	require.NotNil(t, scenario.Assertions[0].Count)
	assert.Equal(t, 0, *scenario.Assertions[0].Count)
}

func TestLoadScenarios_Directory(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	assert.Contains(t, names, "due_date_reclassify")
	assert.Contains(t, names, "decline_escalation")
	assert.IsIncreasing(t, names, "files load in path order")
}

func TestLoadScenarios_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: x\n"), 0644))

	_, err := LoadScenarios(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
