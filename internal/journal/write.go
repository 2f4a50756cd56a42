package journal

import (
	"context"
	"fmt"
)

// Write inserts an entry.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (j *Journal) Write(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO records
		(id, trace, seq, depth, type, event_id, args, kind, effect_key, payload,
		 delay_ms, committed, version, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Trace,
		e.Seq,
		e.Depth,
		e.Type,
		e.EventID,
		e.Args,
		e.Kind,
		e.EffectKey,
		e.Payload,
		e.DelayMS,
		e.Committed,
		e.Version,
		e.ErrorCode,
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}
