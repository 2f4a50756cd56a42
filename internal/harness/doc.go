// Package harness runs YAML scenarios against a real store.
//
// A scenario names a registered application, an initial state, a list of
// steps and a list of assertions:
//
//	name: counter_bump
//	description: bump commits the counter and logs the new value
//	app: counter
//	trace_token: trace-bump
//	initial:
//	  counter: 5
//	steps:
//	  - dispatch_sync: [counter/bump]
//	assertions:
//	  - type: final_state
//	    expect: {counter: 6}
//	  - type: effect_called
//	    effect: counter/log
//	    payload: 6
//
// Each run uses a fresh store with a manual scheduler, a fixed trace token
// and a fresh logical clock, so the same scenario always produces the same
// trace. Steps:
//   - dispatch_sync: handle an event to completion
//   - dispatch: queue an event (processed by a later drain step)
//   - advance: move the manual scheduler forward ("250ms"), firing due
//     delayed dispatches onto the queue
//   - drain: process everything queued
//
// dispatch_sync and drain steps may set expect_error to the error code they
// must fail with. Any other step failure fails the scenario.
//
// Assertions: final_state (subset match on the final state),
// effect_called, event_order, event_count and error_code, all evaluated
// against the observer records of the run.
//
// The trace and the final state are serialized as canonical JSON for golden
// comparison (see RunWithGolden and Snapshot).
package harness
