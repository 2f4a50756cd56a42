package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Dispatch after the store has been stopped.
var ErrStopped = errors.New("store stopped")

// DispatchError represents a failure detected while dispatching an event
// or computing a subscription.
//
// Dispatch errors include:
//   - Handler not found: no event handler or subscription for the id
//   - Effect not found: an effects description names an unregistered effect
//   - Invalid effect: a reserved effect key carries a payload of the wrong type
//   - Handler panic: an event handler panicked (nothing was committed)
//   - Effect failed: an effect handler returned an error
//   - Re-entrant dispatch: DispatchSync called from inside a dispatch step
type DispatchError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind is "event", "subscription" or "effect".
	Kind string

	// EventID is the event being handled when the error occurred.
	EventID ID

	// EffectKey is the effect being processed, if any.
	EffectKey ID

	// Trace is the trace token of the failed dispatch.
	Trace string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes dispatch errors.
type ErrorCode string

const (
	// ErrCodeHandlerNotFound indicates an unregistered event or subscription id.
	ErrCodeHandlerNotFound ErrorCode = "HANDLER_NOT_FOUND"

	// ErrCodeEffectNotFound indicates an unregistered effect id.
	ErrCodeEffectNotFound ErrorCode = "EFFECT_NOT_FOUND"

	// ErrCodeInvalidEffect indicates a reserved effect with a malformed payload.
	ErrCodeInvalidEffect ErrorCode = "INVALID_EFFECT"

	// ErrCodeHandlerPanic indicates an event handler panicked.
	ErrCodeHandlerPanic ErrorCode = "HANDLER_PANIC"

	// ErrCodeEffectFailed indicates an effect handler returned an error.
	ErrCodeEffectFailed ErrorCode = "EFFECT_FAILED"

	// ErrCodeReentrant indicates DispatchSync was called from within a dispatch.
	ErrCodeReentrant ErrorCode = "REENTRANT_DISPATCH"
)

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.EffectKey != "" && e.EventID != "":
		msg = fmt.Sprintf("%s (event=%s, effect=%s)", msg, e.EventID, e.EffectKey)
	case e.EventID != "":
		msg = fmt.Sprintf("%s (event=%s)", msg, e.EventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// HasCode reports whether err wraps a DispatchError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// IsHandlerNotFound returns true for an unregistered event or subscription id.
// Uses errors.As to handle wrapped errors.
func IsHandlerNotFound(err error) bool {
	return HasCode(err, ErrCodeHandlerNotFound)
}

// IsEffectNotFound returns true for an unregistered effect id.
func IsEffectNotFound(err error) bool {
	return HasCode(err, ErrCodeEffectNotFound)
}

// IsReentrant returns true if DispatchSync was refused as re-entrant.
func IsReentrant(err error) bool {
	return HasCode(err, ErrCodeReentrant)
}

// CodeOf returns the code of the first DispatchError in err's chain,
// "STEPS_EXCEEDED" for a quota failure, or "" otherwise.
func CodeOf(err error) ErrorCode {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	if IsStepsExceededError(err) {
		return "STEPS_EXCEEDED"
	}
	return ""
}

func newHandlerNotFound(kind string, id ID) *DispatchError {
	return &DispatchError{
		Code:    ErrCodeHandlerNotFound,
		Message: fmt.Sprintf("no %s handler registered for %q", kind, id),
		Kind:    kind,
		EventID: id,
	}
}

func newEffectNotFound(eventID, key ID) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeEffectNotFound,
		Message:   fmt.Sprintf("no effect handler registered for %q", key),
		Kind:      "effect",
		EventID:   eventID,
		EffectKey: key,
	}
}

func newInvalidEffect(eventID, key ID, payload any, want string) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeInvalidEffect,
		Message:   fmt.Sprintf("payload of %q must be %s, got %T", key, want, payload),
		Kind:      "effect",
		EventID:   eventID,
		EffectKey: key,
	}
}
