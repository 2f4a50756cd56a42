package journal

import (
	"fmt"

	"github.com/roach88/fxstore/internal/canon"
	"github.com/roach88/fxstore/internal/engine"
)

// DomainRecord is the hash domain for record IDs.
const DomainRecord = "fxstore/record/v1"

// Entry is the stored form of an engine.Record. Args and Payload hold
// canonical JSON.
type Entry struct {
	ID        string `json:"id"`
	Trace     string `json:"trace"`
	Seq       int64  `json:"seq"`
	Depth     int    `json:"depth"`
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	Args      string `json:"args"`
	Kind      string `json:"kind,omitempty"`
	EffectKey string `json:"effect_key,omitempty"`
	Payload   string `json:"payload"`
	DelayMS   int64  `json:"delay_ms,omitempty"`
	Committed bool   `json:"committed,omitempty"`
	Version   int64  `json:"version"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecordID computes the content-addressed ID of a record. The ID is stable
// given the same trace, seq, type, event and effect key.
func RecordID(trace string, seq int64, typ, eventID, effectKey string) (string, error) {
	return canon.HashValue(DomainRecord, map[string]any{
		"trace":      trace,
		"seq":        seq,
		"type":       typ,
		"event_id":   eventID,
		"effect_key": effectKey,
	})
}

// FromRecord converts an observer record to its stored form.
//
// Args and payloads that have no JSON form (functions, channels) are stored
// as their %v rendering.
func FromRecord(r engine.Record) (Entry, error) {
	args := r.Args
	if args == nil {
		args = []any{}
	}

	e := Entry{
		Trace:     r.Trace,
		Seq:       r.Seq,
		Depth:     r.Depth,
		Type:      string(r.Type),
		EventID:   string(r.EventID),
		Args:      marshalLoose(args),
		EffectKey: string(r.EffectKey),
		Payload:   marshalLoose(r.Payload),
		DelayMS:   r.Delay.Milliseconds(),
		Committed: r.Committed,
		Version:   r.Version,
	}
	if r.Type == engine.RecordEvent {
		e.Kind = r.Kind.String()
	}
	if r.Err != nil {
		e.ErrorCode = string(engine.CodeOf(r.Err))
		e.Error = r.Err.Error()
	}

	id, err := RecordID(e.Trace, e.Seq, e.Type, e.EventID, e.EffectKey)
	if err != nil {
		return Entry{}, fmt.Errorf("record id: %w", err)
	}
	e.ID = id
	return e, nil
}

func marshalLoose(v any) string {
	data, err := canon.Marshal(v)
	if err == nil {
		return string(data)
	}
	return string(canon.MustMarshal(fmt.Sprintf("%v", v)))
}
