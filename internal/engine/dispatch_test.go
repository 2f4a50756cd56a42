package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchSync_DBHandlerCommits(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventDB("counter/increment", incrementHandler)

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("counter/increment")))
	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("counter/increment")))

	assert.Equal(t, 2, s.DB().Counter)
	assert.Equal(t, int64(2), s.Version())
}

// increment/log/bump: dispatching bump from {counter: 5} commits
// {counter: 6} and invokes log with 6.
func TestDispatchSync_BumpScenario(t *testing.T) {
	s, _ := newTestStore(testDB{Counter: 5})
	s.RegEventDB("increment", incrementHandler)

	var logged []any
	var observed []int
	s.RegFx("log", func(_ context.Context, payload any) error {
		logged = append(logged, payload)
		observed = append(observed, s.DB().Counter)
		return nil
	})
	s.RegEventFX("bump", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		next := cofx.DB.Counter + 1
		return NewEffects[testDB]().
			DB(cofx.DB.withCounter(next)).
			Set("log", next)
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("bump")))

	assert.Equal(t, 6, s.DB().Counter)
	assert.Equal(t, []any{6}, logged)
	assert.Equal(t, []int{6}, observed, "effect must observe the committed state")
}

func TestDispatchSync_DBCommittedBeforeEarlierKeys(t *testing.T) {
	s, _ := newTestStore(testDB{})

	var seen int
	s.RegFx("peek", func(context.Context, any) error {
		seen = s.DB().Counter
		return nil
	})
	s.RegEventFX("late-db", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		// db set after peek still commits first
		return NewEffects[testDB]().Set("peek", nil).DB(cofx.DB.withCounter(42))
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("late-db")))
	assert.Equal(t, 42, seen)
}

func TestDispatchSync_FXDispatchCompletesBeforeNextPair(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventDB("e1", incrementHandler)

	var order []string
	var seenByEffA int
	s.RegFx("effA", func(_ context.Context, payload any) error {
		order = append(order, "effA")
		seenByEffA = s.DB().Counter
		return nil
	})
	s.Observe(func(r Record) {
		if r.Type == RecordEvent && r.EventID == "e1" {
			order = append(order, "e1")
		}
	})
	s.RegEventFX("parent", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		return NewEffects[testDB]().
			DB(cofx.DB.withCounter(10)).
			FX(DispatchPair(NewEvent("e1")), Pair{Key: "effA", Payload: "p"})
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("parent")))

	assert.Equal(t, []string{"e1", "effA"}, order)
	assert.Equal(t, 11, seenByEffA, "effA must observe e1's commit")
}

func TestDispatchSync_NestedDispatchIsDepthFirst(t *testing.T) {
	s, _ := newTestStore(testDB{})
	calls := &callLog{}
	s.RegFx("rec", calls.handler("rec"))
	s.RegFx("after", calls.handler("after"))

	s.RegEventFX("grandchild", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set("rec", "grandchild")
	})
	s.RegEventFX("child", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().
			Dispatch(NewEvent("grandchild")).
			Set("rec", "child")
	})
	s.RegEventFX("parent", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().
			FX(
				Pair{Key: "rec", Payload: "a"},
				Pair{Key: "", Payload: "skipped"},
				DispatchPair(NewEvent("child")),
				Pair{Key: "rec", Payload: "b"},
			).
			Set("after", "c")
	})

	sink := &recordSink{}
	s.Observe(sink.observe)

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("parent")))

	assert.Equal(t, []string{"rec:a", "rec:grandchild", "rec:child", "rec:b", "after:c"}, calls.get())

	events := sink.ofType(RecordEvent)
	require.Len(t, events, 3)
	assert.Equal(t, ID("parent"), events[0].EventID)
	assert.Equal(t, 0, events[0].Depth)
	assert.Equal(t, ID("child"), events[1].EventID)
	assert.Equal(t, 1, events[1].Depth)
	assert.Equal(t, ID("grandchild"), events[2].EventID)
	assert.Equal(t, 2, events[2].Depth)
}

func TestDispatchSync_DispatchLaterDoesNotBlock(t *testing.T) {
	s, sched := newTestStore(testDB{}, WithTraceGenerator(NewFixedGenerator("trace-1")))
	s.RegEventDB("counter/increment", incrementHandler)
	s.RegEventFX("counter/tick-later", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().DispatchLater(time.Second, NewEvent("counter/increment"))
	})

	sink := &recordSink{}
	s.Observe(sink.observe)

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("counter/tick-later")))
	assert.Equal(t, 0, s.DB().Counter, "delayed event must not run inside the step")
	assert.Equal(t, 1, sched.Pending())
	assert.Equal(t, 0, s.Pending())

	assert.Equal(t, 0, sched.Advance(999*time.Millisecond))
	assert.Equal(t, 0, s.Pending())

	assert.Equal(t, 1, sched.Advance(time.Millisecond))
	assert.Equal(t, 1, s.Pending(), "due event is queued, not run inline")

	// FixedGenerator panics on a second token: the delayed dispatch must
	// reuse the scheduling step's trace.
	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, 1, s.DB().Counter)

	scheduled := sink.ofType(RecordSchedule)
	require.Len(t, scheduled, 1)
	assert.Equal(t, time.Second, scheduled[0].Delay)
	assert.Equal(t, ID("counter/increment"), scheduled[0].EventID)

	events := sink.ofType(RecordEvent)
	require.Len(t, events, 2)
	assert.Equal(t, "trace-1", events[1].Trace)
}

func TestDispatchSync_DispatchLaterMultiple(t *testing.T) {
	s, sched := newTestStore(testDB{})
	s.RegEventDB("append", func(db testDB, ev Event) testDB {
		return db.appendLog(ev.Arg(0).(string))
	})
	s.RegEventFX("schedule", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set(KeyDispatchLater, []Later{
			{Delay: 20 * time.Millisecond, Event: NewEvent("append", "second")},
			{Delay: -time.Second, Event: NewEvent("append", "first")},
		})
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("schedule")))
	assert.Equal(t, 1, sched.Advance(0), "negative delay is treated as zero")
	assert.Equal(t, 1, sched.Advance(20*time.Millisecond))
	require.NoError(t, s.Drain(context.Background()))

	assert.Equal(t, []string{"first", "second"}, s.DB().Log)
}

func TestDispatchSync_MissingHandler(t *testing.T) {
	s, _ := newTestStore(testDB{Counter: 3})

	err := s.DispatchSync(context.Background(), NewEvent("nope"))
	require.Error(t, err)
	assert.True(t, IsHandlerNotFound(err))

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ID("nope"), de.EventID)
	assert.Equal(t, "event", de.Kind)
	assert.NotEmpty(t, de.Trace)

	assert.Equal(t, 3, s.DB().Counter)
	assert.Equal(t, int64(0), s.Version(), "state must not be touched")
}

func TestDispatchSync_Deregistration(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventDB("counter/increment", incrementHandler)
	s.RegEventFX("shutdown", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Deregister("counter/increment")
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("counter/increment")))
	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("shutdown")))

	assert.False(t, s.HasEvent("counter/increment"))
	err := s.DispatchSync(context.Background(), NewEvent("counter/increment"))
	assert.True(t, IsHandlerNotFound(err))
	assert.Equal(t, 1, s.DB().Counter)
}

func TestDispatchSync_DeregisterUnknownIsNoop(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventFX("drop", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set(KeyDeregisterEventHandler, "never-registered")
	})

	assert.NoError(t, s.DispatchSync(context.Background(), NewEvent("drop")))
}

func TestDispatchSync_EffectNotFound_AbortPolicy(t *testing.T) {
	s, _ := newTestStore(testDB{})
	calls := &callLog{}
	s.RegFx("rec", calls.handler("rec"))
	s.RegEventFX("e", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		return NewEffects[testDB]().
			DB(cofx.DB.withCounter(7)).
			Set("missing", 1).
			Set("rec", "x")
	})

	err := s.DispatchSync(context.Background(), NewEvent("e"))
	require.Error(t, err)
	assert.True(t, IsEffectNotFound(err))

	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ID("missing"), de.EffectKey)
	assert.Equal(t, ID("e"), de.EventID)

	assert.Equal(t, 7, s.DB().Counter, "committed db is not rolled back")
	assert.Empty(t, calls.get(), "effects after the failure are skipped")
}

func TestDispatchSync_EffectNotFound_ContinuePolicy(t *testing.T) {
	s, _ := newTestStore(testDB{}, WithEffectPolicy(PolicyContinue))
	calls := &callLog{}
	s.RegFx("rec", calls.handler("rec"))
	s.RegFx("boom", func(context.Context, any) error {
		return errors.New("disk full")
	})
	s.RegEventFX("e", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		return NewEffects[testDB]().
			DB(cofx.DB.withCounter(7)).
			Set("missing", 1).
			Set("boom", nil).
			Set("rec", "x")
	})

	err := s.DispatchSync(context.Background(), NewEvent("e"))
	require.Error(t, err)
	assert.True(t, IsEffectNotFound(err))
	assert.ErrorContains(t, err, "EFFECT_FAILED")
	assert.ErrorContains(t, err, "disk full")

	assert.Equal(t, 7, s.DB().Counter)
	assert.Equal(t, []string{"rec:x"}, calls.get(), "remaining effects are still attempted")
}

func TestDispatchSync_NestedFailure(t *testing.T) {
	tests := []struct {
		name   string
		policy EffectPolicy
		want   []string
	}{
		{name: "abort skips parent's remaining effects", policy: PolicyAbort, want: nil},
		{name: "continue runs parent's remaining effects", policy: PolicyContinue, want: []string{"rec:after"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(testDB{}, WithEffectPolicy(tt.policy))
			calls := &callLog{}
			s.RegFx("rec", calls.handler("rec"))
			s.RegEventFX("parent", func(Coeffects[testDB], Event) *Effects[testDB] {
				return NewEffects[testDB]().
					Dispatch(NewEvent("unregistered")).
					Set("rec", "after")
			})

			err := s.DispatchSync(context.Background(), NewEvent("parent"))
			assert.True(t, IsHandlerNotFound(err))
			assert.Equal(t, tt.want, calls.get())
		})
	}
}

func TestDispatchSync_EffectFailureWrapsCause(t *testing.T) {
	s, _ := newTestStore(testDB{})
	cause := errors.New("network down")
	s.RegFx("http", func(context.Context, any) error { return cause })
	s.RegFx("panicky", func(context.Context, any) error { panic("kaboom") })
	s.RegEventFX("fetch", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set("http", "GET /")
	})
	s.RegEventFX("explode", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set("panicky", nil)
	})

	err := s.DispatchSync(context.Background(), NewEvent("fetch"))
	assert.True(t, HasCode(err, ErrCodeEffectFailed))
	assert.ErrorIs(t, err, cause)

	err = s.DispatchSync(context.Background(), NewEvent("explode"))
	assert.True(t, HasCode(err, ErrCodeEffectFailed))
	assert.ErrorContains(t, err, "kaboom")
}

func TestDispatchSync_HandlerPanic(t *testing.T) {
	s, _ := newTestStore(testDB{Counter: 1})
	s.RegEventDB("bad", func(testDB, Event) testDB { panic("broken handler") })

	err := s.DispatchSync(context.Background(), NewEvent("bad"))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeHandlerPanic))
	assert.ErrorContains(t, err, "broken handler")
	assert.Equal(t, int64(0), s.Version(), "nothing is committed")

	// The store keeps working afterwards.
	s.RegEventDB("counter/increment", incrementHandler)
	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("counter/increment")))
	assert.Equal(t, 2, s.DB().Counter)
}

func TestDispatchSync_InvalidEffect(t *testing.T) {
	tests := []struct {
		name string
		fx   *Effects[testDB]
		key  ID
	}{
		{name: "db of wrong type", fx: NewEffects[testDB]().Set(KeyDB, "not a db"), key: KeyDB},
		{name: "dispatch without event", fx: NewEffects[testDB]().Set(KeyDispatch, []any{"e"}), key: KeyDispatch},
		{name: "dispatch-later without Later", fx: NewEffects[testDB]().Set(KeyDispatchLater, 100), key: KeyDispatchLater},
		{name: "dispatch-later with empty event", fx: NewEffects[testDB]().Set(KeyDispatchLater, Later{Delay: time.Second}), key: KeyDispatchLater},
		{name: "fx not pairs", fx: NewEffects[testDB]().Set(KeyFX, "x"), key: KeyFX},
		{name: "deregister with number", fx: NewEffects[testDB]().Set(KeyDeregisterEventHandler, 5), key: KeyDeregisterEventHandler},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, sched := newTestStore(testDB{})
			s.RegEventFX("e", func(Coeffects[testDB], Event) *Effects[testDB] { return tt.fx })

			err := s.DispatchSync(context.Background(), NewEvent("e"))
			require.Error(t, err)
			assert.True(t, HasCode(err, ErrCodeInvalidEffect))

			var de *DispatchError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.key, de.EffectKey)
			assert.Equal(t, int64(0), s.Version())
			assert.Equal(t, 0, sched.Pending())
		})
	}
}

func TestDispatchSync_NilEffectsIsNoop(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventFX("nothing", func(Coeffects[testDB], Event) *Effects[testDB] { return nil })

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("nothing")))
	assert.Equal(t, int64(0), s.Version())
}

func TestDispatchSync_InvalidDBNamesStateType(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventFX("e", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set(KeyDB, 5)
	})

	err := s.DispatchSync(context.Background(), NewEvent("e"))
	require.Error(t, err)
	assert.ErrorContains(t, err, `payload of "db" must be engine.testDB, got int`)

	// A struct state has no nil form.
	s.RegEventFX("nil", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set(KeyDB, nil)
	})
	err = s.DispatchSync(context.Background(), NewEvent("nil"))
	assert.True(t, HasCode(err, ErrCodeInvalidEffect))
	assert.Equal(t, int64(0), s.Version())
}

func TestDispatchSync_NilDBCommitsZeroState(t *testing.T) {
	s := New[any](map[string]any{"counter": 1}, WithLogger(slog.New(slog.DiscardHandler)))
	s.RegEventFX("clear", func(Coeffects[any], Event) *Effects[any] {
		return NewEffects[any]().DB(nil)
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("clear")))
	assert.Nil(t, s.DB())
	assert.Equal(t, int64(1), s.Version())

	m := New(map[string]int{"a": 1}, WithLogger(slog.New(slog.DiscardHandler)))
	m.RegEventFX("clear", func(Coeffects[map[string]int], Event) *Effects[map[string]int] {
		return NewEffects[map[string]int]().Set(KeyDB, nil)
	})
	require.NoError(t, m.DispatchSync(context.Background(), NewEvent("clear")))
	assert.Nil(t, m.DB())
}

func TestDispatchSync_DeepChainWithinDefaultQuota(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventFX("down", func(cofx Coeffects[testDB], ev Event) *Effects[testDB] {
		n, _ := ev.Arg(0).(int)
		fx := NewEffects[testDB]().DB(cofx.DB.withCounter(cofx.DB.Counter + 1))
		if n > 1 {
			fx.Dispatch(NewEvent("down", n-1))
		}
		return fx
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("down", 1500)))
	assert.Equal(t, 1500, s.DB().Counter)
}

func TestDispatchSync_QuotaStopsRunawayChain(t *testing.T) {
	for _, policy := range []EffectPolicy{PolicyAbort, PolicyContinue} {
		t.Run(policy.String(), func(t *testing.T) {
			s, _ := newTestStore(testDB{}, WithMaxSteps(10), WithEffectPolicy(policy))
			s.RegEventFX("loop", func(cofx Coeffects[testDB], ev Event) *Effects[testDB] {
				return NewEffects[testDB]().
					DB(cofx.DB.withCounter(cofx.DB.Counter + 1)).
					Dispatch(ev)
			})

			err := s.DispatchSync(context.Background(), NewEvent("loop"))
			require.Error(t, err)

			var stepsErr *StepsExceededError
			require.ErrorAs(t, err, &stepsErr)
			assert.Equal(t, 11, stepsErr.Steps)
			assert.Equal(t, 10, stepsErr.Limit)
			assert.Equal(t, 10, s.DB().Counter, "steps before the limit stay committed")
		})
	}
}

func TestDispatchSync_QuotaIsPerTopLevelDispatch(t *testing.T) {
	s, _ := newTestStore(testDB{}, WithMaxSteps(2))
	s.RegEventDB("counter/increment", incrementHandler)
	s.RegEventFX("twice", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Dispatch(NewEvent("counter/increment"))
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, s.DispatchSync(context.Background(), NewEvent("twice")))
	}
	assert.Equal(t, 5, s.DB().Counter)
}

func TestDispatchSync_ReentrantCallFailsFast(t *testing.T) {
	s, _ := newTestStore(testDB{}, WithTraceGenerator(NewFixedGenerator("trace-outer")))
	s.RegEventDB("counter/increment", incrementHandler)

	var inner error
	var trace string
	s.RegFx("sneaky", func(ctx context.Context, _ any) error {
		trace, _ = TraceFrom(ctx)
		inner = s.DispatchSync(ctx, NewEvent("counter/increment"))
		return inner
	})
	s.RegEventFX("outer", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set("sneaky", nil)
	})

	err := s.DispatchSync(context.Background(), NewEvent("outer"))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeEffectFailed))
	assert.True(t, IsReentrant(inner))
	assert.Equal(t, "trace-outer", trace)
	assert.Equal(t, 0, s.DB().Counter)
}

func TestDispatchSync_EffectMayQueueDispatch(t *testing.T) {
	s, _ := newTestStore(testDB{})
	s.RegEventDB("counter/increment", incrementHandler)
	s.RegFx("queue-more", func(context.Context, any) error {
		return s.Dispatch(NewEvent("counter/increment"))
	})
	s.RegEventFX("start", func(Coeffects[testDB], Event) *Effects[testDB] {
		return NewEffects[testDB]().Set("queue-more", nil)
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("start")))
	assert.Equal(t, 1, s.Pending())
	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, 1, s.DB().Counter)
}

func TestDispatchSync_CoeffectsCarryTrace(t *testing.T) {
	s, _ := newTestStore(testDB{}, WithTraceGenerator(NewFixedGenerator("t-1", "t-2")))

	var traces []string
	s.RegEventFX("e", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		traces = append(traces, cofx.Trace)
		return nil
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("e")))
	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("e")))
	assert.Equal(t, []string{"t-1", "t-2"}, traces)
}

func TestDispatchSync_CancelledContext(t *testing.T) {
	s, _ := newTestStore(testDB{})
	calls := &callLog{}
	s.RegFx("rec", calls.handler("rec"))
	s.RegEventFX("e", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		return NewEffects[testDB]().DB(cofx.DB.withCounter(1)).Set("rec", 1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.DispatchSync(ctx, NewEvent("e"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, s.DB().Counter, "handler ran and committed before the check")
	assert.Empty(t, calls.get())
}

func TestDispatchSync_Records(t *testing.T) {
	sink := &recordSink{}
	s, _ := newTestStore(testDB{Counter: 5},
		WithTraceGenerator(NewFixedGenerator("trace-1", "trace-2")),
		WithObserver(sink.observe),
	)
	s.RegFx("log", func(context.Context, any) error { return nil })
	s.RegEventFX("bump", func(cofx Coeffects[testDB], _ Event) *Effects[testDB] {
		return NewEffects[testDB]().DB(cofx.DB.withCounter(6)).Set("log", 6)
	})

	require.NoError(t, s.DispatchSync(context.Background(), NewEvent("bump", "arg")))
	err := s.DispatchSync(context.Background(), NewEvent("missing"))
	require.Error(t, err)

	records := sink.all()
	require.Len(t, records, 3)

	assert.Equal(t, RecordEvent, records[0].Type)
	assert.Equal(t, ID("bump"), records[0].EventID)
	assert.Equal(t, []any{"arg"}, records[0].Args)
	assert.Equal(t, KindFX, records[0].Kind)
	assert.True(t, records[0].Committed)
	assert.Equal(t, int64(1), records[0].Version)

	assert.Equal(t, RecordEffect, records[1].Type)
	assert.Equal(t, ID("log"), records[1].EffectKey)
	assert.Equal(t, 6, records[1].Payload)
	assert.NoError(t, records[1].Err)

	assert.Equal(t, RecordError, records[2].Type)
	assert.Equal(t, "trace-2", records[2].Trace)
	assert.True(t, IsHandlerNotFound(records[2].Err))

	for i := 1; i < len(records); i++ {
		assert.Greater(t, records[i].Seq, records[i-1].Seq, "seq must be strictly increasing")
	}
}

func TestDispatchSync_Deterministic(t *testing.T) {
	run := func() (testDB, []Record) {
		sink := &recordSink{}
		s, sched := newTestStore(testDB{},
			WithTraceGenerator(NewFixedGenerator("a", "b", "c")),
			WithObserver(sink.observe),
		)
		s.RegEventDB("append", func(db testDB, ev Event) testDB {
			return db.appendLog(ev.Arg(0).(string))
		})
		s.RegEventFX("fan-out", func(Coeffects[testDB], Event) *Effects[testDB] {
			return NewEffects[testDB]().FX(
				DispatchPair(NewEvent("append", "x")),
				DispatchLaterPair(time.Millisecond, NewEvent("append", "later")),
				DispatchPair(NewEvent("append", "y")),
			)
		})

		ctx := context.Background()
		require.NoError(t, s.DispatchSync(ctx, NewEvent("fan-out")))
		require.NoError(t, s.DispatchSync(ctx, NewEvent("append", "z")))
		sched.Advance(time.Millisecond)
		require.NoError(t, s.Drain(ctx))
		return s.DB(), sink.all()
	}

	db1, rec1 := run()
	db2, rec2 := run()

	assert.Equal(t, []string{"x", "y", "z", "later"}, db1.Log)
	assert.Equal(t, db1, db2)
	assert.Equal(t, rec1, rec2)
}
