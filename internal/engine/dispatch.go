package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// frame is one event on the dispatch work-list together with the effects
// it still has to run.
type frame struct {
	event   Event
	depth   int
	pending []pendingEffect
	pos     int
}

type pendingEffect struct {
	key     ID
	payload any
	// fromFX marks pairs spliced in from an fx effect. Inside fx, the fx and
	// deregister-event-handler keys are not reserved and resolve through
	// the effect registry.
	fromFX bool
}

// doDispatch handles ev and runs every effect it produces, depth-first in
// insertion order, on an explicit work-list. Callers hold the writer lock.
//
// A nested dispatch runs to completion, including its own effects, before
// the next effect of its parent. State commits happen before any other
// effect of the same step, so later handlers observe them.
func (s *Store[S]) doDispatch(ctx context.Context, ev Event, trace string) error {
	ctx = context.WithValue(ctx, scopeKey{}, &stepScope{owner: s, trace: trace})
	quota := NewQuotaEnforcer(s.opts.maxSteps)

	root, err := s.handle(ev, trace, 0, quota)
	if err != nil {
		s.fail(trace, ev, 0, "", err)
		return err
	}

	stack := []*frame{root}
	var errs []error

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		top := stack[len(stack)-1]
		if top.pos >= len(top.pending) {
			stack = stack[:len(stack)-1]
			continue
		}
		eff := top.pending[top.pos]
		top.pos++

		next, err := s.runEffect(ctx, top, eff, trace, quota)
		if err != nil {
			s.fail(trace, top.event, top.depth, eff.key, err)
			if s.opts.policy == PolicyAbort || IsStepsExceededError(err) {
				return errors.Join(append(errs, err)...)
			}
			errs = append(errs, err)
			continue
		}
		if next != nil {
			stack = append(stack, next)
		}
	}

	return errors.Join(errs...)
}

// handle invokes the event handler for ev and commits its db effect.
// The returned frame holds the remaining effects.
func (s *Store[S]) handle(ev Event, trace string, depth int, quota *QuotaEnforcer) (*frame, error) {
	if err := quota.Check(trace, ev); err != nil {
		return nil, err
	}

	entry, ok := s.events.get(ev.ID)
	if !ok {
		e := newHandlerNotFound("event", ev.ID)
		e.Trace = trace
		return nil, e
	}

	db := s.cell.Get()
	fx, err := s.callHandler(entry, db, ev, trace)
	if err != nil {
		return nil, err
	}

	pending := make([]pendingEffect, 0, fx.Len())
	var (
		next  S
		hasDB bool
	)
	for _, key := range fx.Keys() {
		payload, _ := fx.Get(key)
		if key == KeyDB {
			v, ok := payload.(S)
			if !ok && payload == nil && zeroIsNil[S]() {
				// An untyped nil commits the zero state.
				ok = true
			}
			if !ok {
				e := newInvalidEffect(ev.ID, key, payload, reflect.TypeFor[S]().String())
				e.Trace = trace
				return nil, e
			}
			next, hasDB = v, true
			continue
		}
		pending = append(pending, pendingEffect{key: key, payload: payload})
	}

	if hasDB {
		s.cell.commit(next)
	}

	s.emit(Record{
		Type:      RecordEvent,
		Trace:     trace,
		Depth:     depth,
		EventID:   ev.ID,
		Args:      ev.Args,
		Kind:      entry.kind,
		Committed: hasDB,
		Version:   s.cell.Version(),
	})
	s.log.Debug("event handled",
		"event", ev.ID,
		"kind", entry.kind,
		"trace", trace,
		"depth", depth,
		"committed", hasDB,
		"effects", len(pending),
	)

	return &frame{event: ev, depth: depth, pending: pending}, nil
}

// callHandler invokes a handler, converting a panic into HANDLER_PANIC.
func (s *Store[S]) callHandler(entry eventEntry[S], db S, ev Event, trace string) (fx *Effects[S], err error) {
	defer func() {
		if r := recover(); r != nil {
			fx = nil
			err = &DispatchError{
				Code:    ErrCodeHandlerPanic,
				Message: fmt.Sprintf("handler for %q panicked: %v", ev.ID, r),
				Kind:    "event",
				EventID: ev.ID,
				Trace:   trace,
			}
		}
	}()

	switch entry.kind {
	case KindDB:
		return NewEffects[S]().DB(entry.db(db, ev)), nil
	case KindFX:
		return entry.fx(Coeffects[S]{DB: db, Event: ev, Trace: trace}, ev), nil
	default:
		return nil, fmt.Errorf("unknown handler kind %d for %q", entry.kind, ev.ID)
	}
}

// runEffect applies one effect of f. A non-nil frame is a nested dispatch
// to run next.
func (s *Store[S]) runEffect(ctx context.Context, f *frame, eff pendingEffect, trace string, quota *QuotaEnforcer) (*frame, error) {
	switch {
	case eff.key == KeyDispatch:
		ev, ok := eff.payload.(Event)
		if !ok {
			return nil, s.invalid(f, eff, trace, "engine.Event")
		}
		return s.handle(ev, trace, f.depth+1, quota)

	case eff.key == KeyDispatchLater:
		return nil, s.scheduleLater(f, eff, trace)

	case eff.key == KeyFX && !eff.fromFX:
		pairs, ok := eff.payload.([]Pair)
		if !ok {
			return nil, s.invalid(f, eff, trace, "[]engine.Pair")
		}
		expanded := make([]pendingEffect, 0, len(pairs))
		for _, p := range pairs {
			if p.Key == "" {
				continue
			}
			expanded = append(expanded, pendingEffect{key: p.Key, payload: p.Payload, fromFX: true})
		}
		rest := f.pending[f.pos:]
		merged := make([]pendingEffect, 0, len(expanded)+len(rest))
		merged = append(merged, expanded...)
		merged = append(merged, rest...)
		f.pending, f.pos = merged, 0
		return nil, nil

	case eff.key == KeyDeregisterEventHandler && !eff.fromFX:
		return nil, s.deregister(f, eff, trace)

	default:
		return nil, s.invokeEffect(ctx, f, eff, trace)
	}
}

func (s *Store[S]) scheduleLater(f *frame, eff pendingEffect, trace string) error {
	var laters []Later
	switch v := eff.payload.(type) {
	case Later:
		laters = []Later{v}
	case []Later:
		laters = v
	default:
		return s.invalid(f, eff, trace, "engine.Later")
	}

	for _, l := range laters {
		if l.Event.ID == "" {
			return s.invalid(f, eff, trace, "engine.Later with an event")
		}
		delay := l.Delay
		if delay < 0 {
			delay = 0
		}
		item := queued{event: l.Event, trace: trace}
		s.opts.scheduler.AfterFunc(delay, func() {
			if !s.queue.Enqueue(item) {
				s.log.Warn("delayed dispatch dropped: store stopped",
					"event", item.event.ID,
					"trace", item.trace,
				)
			}
		})

		s.emit(Record{
			Type:      RecordSchedule,
			Trace:     trace,
			Depth:     f.depth,
			EventID:   l.Event.ID,
			Args:      l.Event.Args,
			EffectKey: KeyDispatchLater,
			Delay:     delay,
			Version:   s.cell.Version(),
		})
	}
	return nil
}

func (s *Store[S]) deregister(f *frame, eff pendingEffect, trace string) error {
	var ids []ID
	switch v := eff.payload.(type) {
	case ID:
		ids = []ID{v}
	case string:
		ids = []ID{ID(v)}
	case []ID:
		ids = v
	default:
		return s.invalid(f, eff, trace, "engine.ID")
	}

	for _, id := range ids {
		removed := s.events.remove(id)
		s.log.Debug("event handler deregistered", "event", id, "present", removed, "trace", trace)
		s.emit(Record{
			Type:      RecordEffect,
			Trace:     trace,
			Depth:     f.depth,
			EventID:   f.event.ID,
			EffectKey: eff.key,
			Payload:   id,
			Version:   s.cell.Version(),
		})
	}
	return nil
}

func (s *Store[S]) invokeEffect(ctx context.Context, f *frame, eff pendingEffect, trace string) error {
	h, ok := s.effects.get(eff.key)
	if !ok {
		e := newEffectNotFound(f.event.ID, eff.key)
		e.Trace = trace
		return e
	}

	err := callEffect(ctx, h, eff.payload)
	if err != nil {
		err = &DispatchError{
			Code:      ErrCodeEffectFailed,
			Message:   fmt.Sprintf("effect %q failed", eff.key),
			Kind:      "effect",
			EventID:   f.event.ID,
			EffectKey: eff.key,
			Trace:     trace,
			Err:       err,
		}
	}

	s.emit(Record{
		Type:      RecordEffect,
		Trace:     trace,
		Depth:     f.depth,
		EventID:   f.event.ID,
		EffectKey: eff.key,
		Payload:   eff.payload,
		Version:   s.cell.Version(),
		Err:       err,
	})
	return err
}

func callEffect(ctx context.Context, h EffectHandler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("effect handler panicked: %v", r)
		}
	}()
	return h(ctx, payload)
}

func (s *Store[S]) invalid(f *frame, eff pendingEffect, trace, want string) error {
	e := newInvalidEffect(f.event.ID, eff.key, eff.payload, want)
	e.Trace = trace
	return e
}

// fail logs a step failure and emits an error record.
func (s *Store[S]) fail(trace string, ev Event, depth int, key ID, err error) {
	s.log.Debug("dispatch step failed",
		"event", ev.ID,
		"effect", key,
		"trace", trace,
		"code", CodeOf(err),
		"error", err,
	)
	s.emit(Record{
		Type:      RecordError,
		Trace:     trace,
		Depth:     depth,
		EventID:   ev.ID,
		Args:      ev.Args,
		EffectKey: key,
		Version:   s.cell.Version(),
		Err:       err,
	})
}

// zeroIsNil reports whether the zero value of S is nil.
func zeroIsNil[S any]() bool {
	switch reflect.TypeFor[S]().Kind() {
	case reflect.Interface, reflect.Map, reflect.Slice, reflect.Pointer, reflect.Chan, reflect.Func:
		return true
	}
	return false
}
