package engine

import (
	"fmt"
	"strings"
)

// ID identifies an event, effect or subscription handler.
// IDs are conventionally namespaced: "counter/bump", "app/log".
type ID string

// Reserved effect keys with built-in meaning inside an effects description.
const (
	// KeyDB carries the new state. Always committed before any other key.
	KeyDB ID = "db"
	// KeyDispatch carries an Event dispatched synchronously within the step.
	KeyDispatch ID = "dispatch"
	// KeyDispatchLater carries a Later (or []Later) scheduled after a delay.
	KeyDispatchLater ID = "dispatch-later"
	// KeyFX carries an ordered []Pair processed in sequence.
	KeyFX ID = "fx"
	// KeyDeregisterEventHandler carries the ID of an event handler to remove.
	KeyDeregisterEventHandler ID = "deregister-event-handler"
)

// Event is a request to change state and/or trigger effects.
// ID selects the handler; Args is the payload, passed through untouched.
type Event struct {
	ID   ID
	Args []any
}

// NewEvent builds an event from an id and its payload values.
func NewEvent(id ID, args ...any) Event {
	return Event{ID: id, Args: args}
}

// EventFromVector builds an event from an ordered sequence whose first
// element is the event id (string or ID).
func EventFromVector(v []any) (Event, error) {
	if len(v) == 0 {
		return Event{}, fmt.Errorf("event vector is empty")
	}
	var id ID
	switch head := v[0].(type) {
	case ID:
		id = head
	case string:
		id = ID(head)
	default:
		return Event{}, fmt.Errorf("event id must be a string, got %T", v[0])
	}
	if id == "" {
		return Event{}, fmt.Errorf("event id is empty")
	}
	return Event{ID: id, Args: append([]any(nil), v[1:]...)}, nil
}

// Arg returns the i-th payload value, or nil if there is none.
func (e Event) Arg(i int) any {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// Vector returns the event as the ordered sequence [id, args...].
func (e Event) Vector() []any {
	v := make([]any, 0, len(e.Args)+1)
	v = append(v, string(e.ID))
	return append(v, e.Args...)
}

func (e Event) String() string {
	if len(e.Args) == 0 {
		return "[" + string(e.ID) + "]"
	}
	parts := make([]string, 0, len(e.Args)+1)
	parts = append(parts, string(e.ID))
	for _, a := range e.Args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Query asks a subscription for a derived value.
// ID selects the subscription; Args are threaded through to its computation.
type Query struct {
	ID   ID
	Args []any
}

// NewQuery builds a query from a subscription id and extra arguments.
func NewQuery(id ID, args ...any) Query {
	return Query{ID: id, Args: args}
}

// Arg returns the i-th extra argument, or nil if there is none.
func (q Query) Arg(i int) any {
	if i < 0 || i >= len(q.Args) {
		return nil
	}
	return q.Args[i]
}

func (q Query) String() string {
	return Event(q).String()
}
