// Package counter is the demo application: a counter held in an appdb.DB
// under the "counter" key, with events that change it, a log effect and
// three subscriptions.
package counter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fxstore/internal/appdb"
	"github.com/roach88/fxstore/internal/engine"
)

// Key is the state key holding the counter value.
const Key = "counter"

// Event ids.
const (
	EventIncrement engine.ID = "counter/increment"
	EventBump      engine.ID = "counter/bump"
	EventAdd       engine.ID = "counter/add"
	EventReset     engine.ID = "counter/reset"
	EventTickLater engine.ID = "counter/tick-later"
	EventFreeze    engine.ID = "counter/freeze"
)

// EffectLog receives the counter value after a bump.
const EffectLog engine.ID = "counter/log"

// Subscription ids.
const (
	SubCount  engine.ID = "counter/count"
	SubScaled engine.ID = "counter/scaled"
	SubParity engine.ID = "counter/parity"
)

// DefaultTickDelay is the counter/tick-later delay when none is given.
const DefaultTickDelay = time.Second

// Initial returns a DB holding the counter at n.
func Initial(n int) appdb.DB {
	return appdb.Empty().Set(Key, n)
}

// Value returns the counter held in db; an absent counter reads as 0.
func Value(db appdb.DB) int {
	n, _ := db.Int(Key)
	return n
}

// Register installs the counter events, the log effect and the
// subscriptions on s. The log effect writes to log at Info level.
func Register(s *engine.Store[appdb.DB], log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	s.RegEventDB(EventIncrement, func(db appdb.DB, _ engine.Event) appdb.DB {
		return db.Set(Key, Value(db)+1)
	})

	s.RegEventFX(EventBump, func(cofx engine.Coeffects[appdb.DB], _ engine.Event) *engine.Effects[appdb.DB] {
		next := Value(cofx.DB) + 1
		return engine.NewEffects[appdb.DB]().
			DB(cofx.DB.Set(Key, next)).
			Set(EffectLog, next)
	})

	s.RegEventDB(EventAdd, func(db appdb.DB, ev engine.Event) appdb.DB {
		n, ok := appdb.ToInt(ev.Arg(0))
		if !ok {
			panic(fmt.Errorf("%s: argument %v is not an integer", EventAdd, ev.Arg(0)))
		}
		return db.Set(Key, Value(db)+n)
	})

	// counter/reset [base] zeroes the counter, then adds base in a nested
	// dispatch.
	s.RegEventFX(EventReset, func(cofx engine.Coeffects[appdb.DB], ev engine.Event) *engine.Effects[appdb.DB] {
		base := 0
		if ev.Arg(0) != nil {
			base, _ = appdb.ToInt(ev.Arg(0))
		}
		return engine.NewEffects[appdb.DB]().
			DB(cofx.DB.Set(Key, 0)).
			Dispatch(engine.NewEvent(EventAdd, base))
	})

	// counter/tick-later [ms] increments after a delay.
	s.RegEventFX(EventTickLater, func(_ engine.Coeffects[appdb.DB], ev engine.Event) *engine.Effects[appdb.DB] {
		delay := DefaultTickDelay
		if ms, ok := appdb.ToInt(ev.Arg(0)); ok {
			delay = time.Duration(ms) * time.Millisecond
		}
		return engine.NewEffects[appdb.DB]().
			DispatchLater(delay, engine.NewEvent(EventIncrement))
	})

	// counter/freeze removes counter/increment; later increments fail with
	// HANDLER_NOT_FOUND.
	s.RegEventFX(EventFreeze, func(engine.Coeffects[appdb.DB], engine.Event) *engine.Effects[appdb.DB] {
		return engine.NewEffects[appdb.DB]().Deregister(EventIncrement)
	})

	s.RegFx(EffectLog, func(_ context.Context, payload any) error {
		log.Info("counter", "value", payload)
		return nil
	})

	s.RegSubField(SubCount, Key)

	s.RegSubSelector(SubScaled, func(db appdb.DB, args ...any) any {
		factor := 1
		if len(args) > 0 {
			if f, ok := appdb.ToInt(args[0]); ok {
				factor = f
			}
		}
		return Value(db) * factor
	})

	s.RegSub(SubParity, func(db appdb.DB, _ engine.Query) any {
		if Value(db)%2 == 0 {
			return "even"
		}
		return "odd"
	})
}
