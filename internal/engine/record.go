package engine

import "time"

// RecordType distinguishes observer records.
type RecordType string

const (
	// RecordEvent is emitted after an event handler ran and its db committed.
	RecordEvent RecordType = "event"
	// RecordEffect is emitted after an effect handler ran, or after a
	// deregister-event-handler effect was applied.
	RecordEffect RecordType = "effect"
	// RecordSchedule is emitted when a dispatch-later was scheduled.
	RecordSchedule RecordType = "schedule"
	// RecordError is emitted when a dispatch step fails.
	RecordError RecordType = "error"
)

// Record describes one observable step of a dispatch.
//
// Records are stamped with the store's logical clock and emitted
// synchronously, in processing order, on the dispatching goroutine.
type Record struct {
	Type  RecordType
	Trace string
	Seq   int64
	Depth int // 0 for the top-level event, +1 per nested dispatch

	EventID ID
	Args    []any
	Kind    Kind // event records only

	EffectKey ID
	Payload   any
	Delay     time.Duration // schedule records only

	Committed bool  // event records: whether a db was committed
	Version   int64 // state version after the record's step
	Err       error
}

// Observer receives records. Observers must not dispatch synchronously.
type Observer func(Record)
