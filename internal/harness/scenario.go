package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: a flow of dispatches against a
// registered application, plus assertions on the resulting trace and final
// state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// App names a registered application (see RegisterApp).
	App string `yaml:"app"`

	// TraceToken is the trace token of every top-level dispatch.
	// If empty, defaults to "test-trace-default".
	TraceToken string `yaml:"trace_token,omitempty"`

	// Initial is the initial state.
	Initial map[string]any `yaml:"initial,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one of DispatchSync, Dispatch, Advance
// and Drain is set.
type Step struct {
	// DispatchSync is an event vector [id, args...] handled to completion.
	DispatchSync []any `yaml:"dispatch_sync,omitempty"`

	// Dispatch is an event vector queued for a later drain.
	Dispatch []any `yaml:"dispatch,omitempty"`

	// Advance is a duration ("100ms", "1s") the manual scheduler moves forward.
	Advance string `yaml:"advance,omitempty"`

	// Drain processes every queued dispatch.
	Drain bool `yaml:"drain,omitempty"`

	// ExpectError is the error code a dispatch_sync or drain step must
	// fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// action names the step's action for messages.
func (s Step) action() string {
	switch {
	case s.DispatchSync != nil:
		return StepDispatchSync
	case s.Dispatch != nil:
		return StepDispatch
	case s.Advance != "":
		return StepAdvance
	case s.Drain:
		return StepDrain
	default:
		return ""
	}
}

// Step action names.
const (
	StepDispatchSync = "dispatch_sync"
	StepDispatch     = "dispatch"
	StepAdvance      = "advance"
	StepDrain        = "drain"
)

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "final_state": the final state contains Expect (subset match)
	// - "effect_called": effect Effect ran, with Payload if given
	// - "event_order": events Events were handled in this order
	// - "event_count": event Event was handled exactly Count times
	// - "error_code": a step failed with Code (for event Event, if given)
	Type string `yaml:"type"`

	// Expect contains expected state values (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Effect is the effect key (effect_called).
	Effect string `yaml:"effect,omitempty"`

	// Payload is the expected effect payload (effect_called). Nil matches
	// any payload.
	Payload any `yaml:"payload,omitempty"`

	// Event is the event id (event_count, error_code).
	Event string `yaml:"event,omitempty"`

	// Events is the expected handling order (event_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (event_count).
	Count int `yaml:"count,omitempty"`

	// Code is the expected error code (error_code).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertFinalState   = "final_state"
	AssertEffectCalled = "effect_called"
	AssertEventOrder   = "event_order"
	AssertEventCount   = "event_count"
	AssertErrorCode    = "error_code"
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
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
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

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.App == "" {
		return fmt.Errorf("app is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s Step) error {
	set := 0
	if s.DispatchSync != nil {
		set++
	}
	if s.Dispatch != nil {
		set++
	}
	if s.Advance != "" {
		set++
	}
	if s.Drain {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of dispatch_sync, dispatch, advance, drain is required", index)
	}

	switch s.action() {
	case StepDispatchSync:
		if len(s.DispatchSync) == 0 {
			return fmt.Errorf("steps[%d]: dispatch_sync needs an event id", index)
		}
	case StepDispatch:
		if len(s.Dispatch) == 0 {
			return fmt.Errorf("steps[%d]: dispatch needs an event id", index)
		}
	case StepAdvance:
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not be negative", index)
		}
	}

	if s.ExpectError != "" && s.action() != StepDispatchSync && s.action() != StepDrain {
		return fmt.Errorf("steps[%d]: expect_error only applies to dispatch_sync and drain", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertEffectCalled:
		if a.Effect == "" {
			return fmt.Errorf("assertions[%d]: effect is required for effect_called", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertErrorCode:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error_code", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
