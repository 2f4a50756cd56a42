package journal

import (
	"context"
	"database/sql"
	"fmt"
)

// ReadTrace returns all entries of one trace.
// Results are ordered deterministically: ORDER BY seq ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if no records exist for the trace.
func (j *Journal) ReadTrace(ctx context.Context, trace string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, trace, seq, depth, type, event_id, args, kind, effect_key, payload,
		       delay_ms, committed, version, error_code, error
		FROM records
		WHERE trace = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, trace)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return entries, nil
}

// TraceSummary describes one trace in the journal.
type TraceSummary struct {
	Trace    string `json:"trace"`
	FirstSeq int64  `json:"first_seq"`
	LastSeq  int64  `json:"last_seq"`
	Records  int    `json:"records"`
	Errors   int    `json:"errors"`
	// Root is the event id of the first event record of the trace.
	Root string `json:"root"`
}

// Traces summarizes every trace in the journal, ordered by first seq.
func (j *Journal) Traces(ctx context.Context) ([]TraceSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.trace,
		       MIN(r.seq),
		       MAX(r.seq),
		       COUNT(*),
		       SUM(CASE WHEN r.type = 'error' THEN 1 ELSE 0 END),
		       COALESCE((
		           SELECT e.event_id FROM records e
		           WHERE e.trace = r.trace AND e.type = 'event'
		           ORDER BY e.seq ASC, e.id COLLATE BINARY ASC
		           LIMIT 1
		       ), '')
		FROM records r
		GROUP BY r.trace
		ORDER BY MIN(r.seq) ASC, r.trace COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query traces: %w", err)
	}
	defer rows.Close()

	summaries := []TraceSummary{}
	for rows.Next() {
		var s TraceSummary
		if err := rows.Scan(&s.Trace, &s.FirstSeq, &s.LastSeq, &s.Records, &s.Errors, &s.Root); err != nil {
			return nil, fmt.Errorf("scan trace summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}

	return summaries, nil
}

// LastSeq returns the highest seq in the journal, or 0 when it is empty.
// A store reopening the journal continues numbering with
// engine.NewClockAt(LastSeq).
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM records`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID,
		&e.Trace,
		&e.Seq,
		&e.Depth,
		&e.Type,
		&e.EventID,
		&e.Args,
		&e.Kind,
		&e.EffectKey,
		&e.Payload,
		&e.DelayMS,
		&e.Committed,
		&e.Version,
		&e.ErrorCode,
		&e.Error,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("scan record: %w", err)
	}
	return e, nil
}
