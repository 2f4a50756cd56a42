package journal

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fxstore/internal/engine"
)

// createTestJournal opens a journal in a temp dir, closed on cleanup.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should exist")

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, j.Close())
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than supported")
}

func TestClose_Nil(t *testing.T) {
	var j Journal
	assert.NoError(t, j.Close())
}

func TestAppend_ReadTrace(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	records := []engine.Record{
		{Type: engine.RecordEvent, Trace: "t-1", Seq: 1, EventID: "counter/bump", Args: []any{2}, Kind: engine.KindFX, Committed: true, Version: 1},
		{Type: engine.RecordEffect, Trace: "t-1", Seq: 2, EventID: "counter/bump", EffectKey: "counter/log", Payload: 6, Version: 1},
		{Type: engine.RecordSchedule, Trace: "t-1", Seq: 3, Depth: 1, EventID: "counter/increment", EffectKey: engine.KeyDispatchLater, Delay: 1500 * time.Millisecond, Version: 1},
		{Type: engine.RecordEvent, Trace: "t-2", Seq: 4, EventID: "other", Kind: engine.KindDB, Version: 2},
	}
	// Written out of order; reads come back by seq.
	for i := len(records) - 1; i >= 0; i-- {
		require.NoError(t, j.Append(ctx, records[i]))
	}

	entries, err := j.ReadTrace(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, int64(1), entries[0].Seq)
	assert.Equal(t, "event", entries[0].Type)
	assert.Equal(t, "fx", entries[0].Kind)
	assert.Equal(t, "[2]", entries[0].Args)
	assert.True(t, entries[0].Committed)
	assert.Len(t, entries[0].ID, 64)

	assert.Equal(t, "counter/log", entries[1].EffectKey)
	assert.Equal(t, "6", entries[1].Payload)
	assert.Equal(t, "", entries[1].Kind)

	assert.Equal(t, int64(1500), entries[2].DelayMS)
	assert.Equal(t, 1, entries[2].Depth)
	assert.Equal(t, "[]", entries[2].Args)
}

func TestReadTrace_EmptyNotNil(t *testing.T) {
	j := createTestJournal(t)

	entries, err := j.ReadTrace(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestWrite_Idempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	r := engine.Record{Type: engine.RecordEvent, Trace: "t-1", Seq: 1, EventID: "e", Kind: engine.KindDB}
	require.NoError(t, j.Append(ctx, r))
	require.NoError(t, j.Append(ctx, r))

	entries, err := j.ReadTrace(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTraces(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	handlerErr := &engine.DispatchError{Code: engine.ErrCodeEffectNotFound, Message: "no effect handler registered for \"x\"", EventID: "b", EffectKey: "x"}
	for _, r := range []engine.Record{
		{Type: engine.RecordEvent, Trace: "t-a", Seq: 1, EventID: "a"},
		{Type: engine.RecordEvent, Trace: "t-a", Seq: 2, EventID: "a-child", Depth: 1},
		{Type: engine.RecordEvent, Trace: "t-b", Seq: 3, EventID: "b"},
		{Type: engine.RecordError, Trace: "t-b", Seq: 4, EventID: "b", EffectKey: "x", Err: handlerErr},
	} {
		require.NoError(t, j.Append(ctx, r))
	}

	summaries, err := j.Traces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []TraceSummary{
		{Trace: "t-a", FirstSeq: 1, LastSeq: 2, Records: 2, Errors: 0, Root: "a"},
		{Trace: "t-b", FirstSeq: 3, LastSeq: 4, Records: 2, Errors: 1, Root: "b"},
	}, summaries)

	entries, err := j.ReadTrace(ctx, "t-b")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "EFFECT_NOT_FOUND", entries[1].ErrorCode)
	assert.Contains(t, entries[1].Error, "no effect handler")

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)
}

func TestLastSeq_Empty(t *testing.T) {
	j := createTestJournal(t)

	last, err := j.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), last)
}

func TestObserver_JournalsStoreDispatch(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	s := engine.New(0,
		engine.WithLogger(log),
		engine.WithTraceGenerator(engine.NewFixedGenerator("trace-1")),
		engine.WithObserver(j.Observer(ctx, log)),
	)
	s.RegFx("log", func(context.Context, any) error { return nil })
	s.RegEventFX("bump", func(cofx engine.Coeffects[int], _ engine.Event) *engine.Effects[int] {
		return engine.NewEffects[int]().DB(cofx.DB + 1).Set("log", cofx.DB+1)
	})

	require.NoError(t, s.DispatchSync(ctx, engine.NewEvent("bump")))
	require.NoError(t, j.Err())

	entries, err := j.ReadTrace(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bump", entries[0].EventID)
	assert.Equal(t, "log", entries[1].EffectKey)
	assert.Equal(t, "1", entries[1].Payload)
}

func TestObserver_KeepsFirstError(t *testing.T) {
	j := createTestJournal(t)
	require.NoError(t, j.Close())

	observe := j.Observer(context.Background(), slog.New(slog.DiscardHandler))
	observe(engine.Record{Type: engine.RecordEvent, Trace: "t", Seq: 1, EventID: "e"})

	assert.Error(t, j.Err())
}
