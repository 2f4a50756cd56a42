package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps is the default maximum number of handler invocations in
// one top-level dispatch, nested dispatches included.
const DefaultMaxSteps = 100_000

// QuotaEnforcer counts handler invocations within one dispatch step and
// enforces a maximum.
//
// Each top-level dispatch gets its own enforcer. It catches runaway chains
// such as an event whose effects dispatch itself again forever.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
// A limit <= 0 disables the check.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(trace string, ev Event) error {
	q.current++
	if q.maxSteps > 0 && q.current > q.maxSteps {
		return &StepsExceededError{
			Trace:   trace,
			EventID: ev.ID,
			Steps:   q.current,
			Limit:   q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a dispatch exceeds the steps quota.
// The dispatch is aborted; state already committed stays committed.
type StepsExceededError struct {
	Trace   string
	EventID ID // the event that would have exceeded the limit
	Steps   int
	Limit   int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("dispatch %s exceeded max steps quota at %q: %d steps > %d limit",
		e.Trace, e.EventID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
// Uses errors.As to handle wrapped errors.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
