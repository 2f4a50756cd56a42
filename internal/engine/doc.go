// Package engine implements the fxstore single-writer reactive state store.
//
// A Store holds one piece of application state in a Cell and three
// registries: event handlers, effect handlers and subscriptions. State
// changes only through dispatched events; derived values are read through
// subscriptions; everything else happens through effect handlers.
//
// ARCHITECTURE:
//
// Single-Writer Dispatch:
// Every dispatch step holds the store's writer lock, so exactly one step
// mutates state at a time. Readers load the Cell lock-free and always see a
// fully-formed state.
//
// Dispatch Step Flow:
//  1. Look up the event handler (HANDLER_NOT_FOUND if absent)
//  2. Invoke it: db-kind handlers return a new state, fx-kind handlers
//     return an effects description
//  3. Commit the db effect first, at most once per handler invocation
//  4. Run the remaining effects in insertion order
//  5. A dispatch effect pushes the nested event onto the work-list; it and
//     its own effects complete before the next sibling effect
//
// Nested dispatches run on an explicit work-list rather than recursive
// calls, so deep effect chains do not grow the goroutine stack. A per-step
// quota bounds runaway chains.
//
// Asynchronous dispatch:
// Dispatch and dispatch-later enqueue onto a FIFO queue consumed by Run (or
// Drain). Delayed dispatches go through a Scheduler and inherit the trace
// token of the step that scheduled them.
//
// Observability:
// Every handled event, effect, scheduled dispatch and failure is reported as
// a Record stamped by the store's logical Clock. Records carry a sequence
// number, never a wall-clock timestamp.
package engine
