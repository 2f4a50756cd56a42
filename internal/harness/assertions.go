package harness

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/fxstore/internal/canon"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Diff     string       // cmp.Diff output for state mismatches
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if e.Diff != "" {
		fmt.Fprintf(&buf, "\nDiff (-expected +actual):\n%s", e.Diff)
	}

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %v", event.Seq, event.Type, event.EventID, event.Args)
			if event.EffectKey != "" {
				fmt.Fprintf(&buf, " %s=%v", event.EffectKey, event.Payload)
			}
			if event.ErrorCode != "" {
				fmt.Fprintf(&buf, " %s", event.ErrorCode)
			}
			buf.WriteByte('\n')
		}
	}

	return buf.String()
}

// assertFinalState checks that the final state holds every expected key
// with an equal value (subset semantics).
func assertFinalState(result *Result, assertion Assertion) error {
	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatched []string
	actual := make(map[string]any, len(keys))
	for _, key := range keys {
		v, ok := result.State[key]
		if ok {
			actual[key] = v
		}
		if !ok || !valuesEqual(assertion.Expect[key], v) {
			mismatched = append(mismatched, key)
		}
	}
	if len(mismatched) == 0 {
		return nil
	}

	return &AssertionError{
		Type:     AssertFinalState,
		Expected: fmt.Sprintf("state containing %v", assertion.Expect),
		Actual:   fmt.Sprintf("mismatched keys %v", mismatched),
		Diff:     cmp.Diff(assertion.Expect, actual),
	}
}

// assertEffectCalled checks that an effect ran, with the expected payload
// if one is given.
func assertEffectCalled(trace []TraceEvent, assertion Assertion) error {
	var payloads []any
	for _, event := range trace {
		if event.Type != "effect" || event.EffectKey != assertion.Effect {
			continue
		}
		if assertion.Payload == nil || valuesEqual(assertion.Payload, event.Payload) {
			return nil
		}
		payloads = append(payloads, event.Payload)
	}

	actual := "effect not called"
	if len(payloads) > 0 {
		actual = fmt.Sprintf("called with payloads %v", payloads)
	}
	expected := fmt.Sprintf("effect %s called", assertion.Effect)
	if assertion.Payload != nil {
		expected += fmt.Sprintf(" with payload %v", assertion.Payload)
	}
	return &AssertionError{
		Type:     AssertEffectCalled,
		Expected: expected,
		Actual:   actual,
		Trace:    trace,
	}
}

// assertEventOrder checks that events were handled in the specified order.
// Events don't need to be consecutive (intervening events are allowed).
func assertEventOrder(trace []TraceEvent, assertion Assertion) error {
	// Find first position of each expected event
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != "event" {
			continue
		}
		for _, expected := range assertion.Events {
			if event.EventID == expected && positions[expected] == 0 {
				positions[expected] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, id := range assertion.Events {
		if positions[id] == 0 {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("all events handled: %v", assertion.Events),
				Actual:   fmt.Sprintf("missing event: %s", id),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Events); i++ {
		prev := assertion.Events[i-1]
		curr := assertion.Events[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertEventOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertEventCount checks that the event was handled exactly Count times.
func assertEventCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == "event" && event.EventID == assertion.Event {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertErrorCode checks that a dispatch step failed with the code.
func assertErrorCode(trace []TraceEvent, assertion Assertion) error {
	var seen []string
	for _, event := range trace {
		if event.Type != "error" {
			continue
		}
		if event.ErrorCode == assertion.Code && (assertion.Event == "" || event.EventID == assertion.Event) {
			return nil
		}
		seen = append(seen, fmt.Sprintf("%s(%s)", event.ErrorCode, event.EventID))
	}

	expected := "error " + assertion.Code
	if assertion.Event != "" {
		expected += " for event " + assertion.Event
	}
	actual := "no errors"
	if len(seen) > 0 {
		actual = strings.Join(seen, ", ")
	}
	return &AssertionError{
		Type:     AssertErrorCode,
		Expected: expected,
		Actual:   actual,
		Trace:    trace,
	}
}

// valuesEqual compares values by their canonical JSON form, so YAML,
// JSON and Go numbers of equal value match.
func valuesEqual(expected, actual any) bool {
	e, err := canon.Marshal(expected)
	if err != nil {
		return false
	}
	a, err := canon.Marshal(actual)
	if err != nil {
		return false
	}
	return bytes.Equal(e, a)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		case AssertEffectCalled:
			err = assertEffectCalled(result.Trace, assertion)
		case AssertEventOrder:
			err = assertEventOrder(result.Trace, assertion)
		case AssertEventCount:
			err = assertEventCount(result.Trace, assertion)
		case AssertErrorCode:
			err = assertErrorCode(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
