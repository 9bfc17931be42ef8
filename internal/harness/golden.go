package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ncflow/internal/domain"
)

// TraceSnapshot is the golden-file form of a scenario trace.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace renders a trace as canonical JSON, the format of golden files.
func MarshalTrace(scenarioName string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: trace}
	return domain.MarshalCanonical(snapshot.toCanonicalMap())
}

// toCanonicalMap converts the snapshot to a map for canonical JSON
// marshaling. Empty fields are left out.
func (s TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"kind": event.Kind,
			"seq":  event.Seq,
		}
		set := func(key, value string) {
			if value != "" {
				eventMap[key] = value
			}
		}
		set("op", event.Op)
		set("actor", event.Actor)
		set("record", event.Record)
		set("action", event.Action)
		set("outcome", event.Outcome)
		set("state", event.State)
		set("notification", event.Notification)
		if len(event.Detail) > 0 {
			eventMap["detail"] = event.Detail
		}
		if len(event.Recipients) > 0 {
			eventMap["recipients"] = event.Recipients
		}
		traceList[i] = eventMap
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass and Errors.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
