package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fxstore/internal/canon"
)

// TraceSnapshot captures the trace and final state of a scenario run.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	TraceToken   string         `json:"trace_token,omitempty"`
	Trace        []TraceEvent   `json:"trace"`
	FinalState   map[string]any `json:"final_state"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Optional trace fields are only present on the record
// types that carry them.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"seq":     event.Seq,
			"type":    event.Type,
			"depth":   event.Depth,
			"event":   event.EventID,
			"version": event.Version,
		}
		if len(event.Args) > 0 {
			eventMap["args"] = event.Args
		}
		switch event.Type {
		case "event":
			eventMap["kind"] = event.Kind
			eventMap["committed"] = event.Committed
		case "effect":
			eventMap["payload"] = event.Payload
		case "schedule":
			eventMap["delay_ms"] = event.DelayMS
		}
		if event.EffectKey != "" {
			eventMap["effect"] = event.EffectKey
		}
		if event.ErrorCode != "" {
			eventMap["error_code"] = event.ErrorCode
		}
		traceList[i] = eventMap
	}

	finalState := s.FinalState
	if finalState == nil {
		finalState = map[string]any{}
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"final_state":   finalState,
	}
	if s.TraceToken != "" {
		result["trace_token"] = s.TraceToken
	}
	return result
}

// Snapshot serializes a scenario result as canonical JSON.
func Snapshot(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		TraceToken:   scenario.TraceToken,
		Trace:        result.Trace,
		FinalState:   result.State,
	}
	return canon.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return nil
}
