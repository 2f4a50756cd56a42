package harness

import "github.com/roach88/fxstore/internal/engine"

// TraceEvent is one observer record of a scenario run.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"` // event, effect, schedule or error
	Depth     int    `json:"depth"`
	EventID   string `json:"event"`
	Args      []any  `json:"args,omitempty"`
	Kind      string `json:"kind,omitempty"`
	EffectKey string `json:"effect,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	DelayMS   int64  `json:"delay_ms,omitempty"`
	Committed bool   `json:"committed,omitempty"`
	Version   int64  `json:"version"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is false when a step failed unexpectedly or an assertion failed.
	Pass bool `json:"pass"`

	// Trace holds every observer record in processing order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// State is the final state.
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRecord appends an observer record to the trace. It is an
// engine.Observer.
func (r *Result) AddRecord(rec engine.Record) {
	ev := TraceEvent{
		Seq:       rec.Seq,
		Type:      string(rec.Type),
		Depth:     rec.Depth,
		EventID:   string(rec.EventID),
		Args:      rec.Args,
		EffectKey: string(rec.EffectKey),
		Committed: rec.Committed,
		Version:   rec.Version,
	}
	switch rec.Type {
	case engine.RecordEvent:
		ev.Kind = rec.Kind.String()
	case engine.RecordEffect:
		ev.Payload = rec.Payload
	case engine.RecordSchedule:
		ev.DelayMS = rec.Delay.Milliseconds()
	}
	if rec.Err != nil {
		ev.ErrorCode = string(engine.CodeOf(rec.Err))
	}
	r.Trace = append(r.Trace, ev)
}
