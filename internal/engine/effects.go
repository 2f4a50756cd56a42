package engine

import "time"

// Effects is an effects description: an insertion-ordered mapping from
// effect key to payload, returned by fx-kind event handlers.
//
// Setting a key that is already present replaces its payload and keeps its
// original position. KeyDB is always processed first regardless of where it
// was set; all other keys are processed in insertion order.
//
// The zero value is not usable; create with NewEffects.
type Effects[S any] struct {
	keys []ID
	vals map[ID]any
}

// NewEffects returns an empty effects description.
func NewEffects[S any]() *Effects[S] {
	return &Effects[S]{vals: make(map[ID]any)}
}

// Set associates payload with key and returns fx for chaining.
func (fx *Effects[S]) Set(key ID, payload any) *Effects[S] {
	if _, ok := fx.vals[key]; !ok {
		fx.keys = append(fx.keys, key)
	}
	fx.vals[key] = payload
	return fx
}

// DB sets the new state to commit.
func (fx *Effects[S]) DB(db S) *Effects[S] {
	return fx.Set(KeyDB, db)
}

// Dispatch sets an event to dispatch synchronously within the current step.
func (fx *Effects[S]) Dispatch(ev Event) *Effects[S] {
	return fx.Set(KeyDispatch, ev)
}

// DispatchLater sets an event to dispatch after delay d.
func (fx *Effects[S]) DispatchLater(d time.Duration, ev Event) *Effects[S] {
	return fx.Set(KeyDispatchLater, Later{Delay: d, Event: ev})
}

// FX sets an ordered sequence of effect pairs.
func (fx *Effects[S]) FX(pairs ...Pair) *Effects[S] {
	return fx.Set(KeyFX, pairs)
}

// Deregister removes the event handler registered under id once processed.
func (fx *Effects[S]) Deregister(id ID) *Effects[S] {
	return fx.Set(KeyDeregisterEventHandler, id)
}

// Get returns the payload stored under key.
func (fx *Effects[S]) Get(key ID) (any, bool) {
	if fx == nil {
		return nil, false
	}
	v, ok := fx.vals[key]
	return v, ok
}

// Has reports whether key is present.
func (fx *Effects[S]) Has(key ID) bool {
	_, ok := fx.Get(key)
	return ok
}

// Keys returns the keys in insertion order, KeyDB included.
func (fx *Effects[S]) Keys() []ID {
	if fx == nil {
		return nil
	}
	return append([]ID(nil), fx.keys...)
}

// Len returns the number of keys.
func (fx *Effects[S]) Len() int {
	if fx == nil {
		return 0
	}
	return len(fx.keys)
}

// Later is the payload of KeyDispatchLater.
type Later struct {
	Delay time.Duration
	Event Event
}

// Pair is one entry of a KeyFX sequence. Pairs with an empty Key are skipped.
type Pair struct {
	Key     ID
	Payload any
}

// DispatchPair is shorthand for Pair{KeyDispatch, ev}.
func DispatchPair(ev Event) Pair {
	return Pair{Key: KeyDispatch, Payload: ev}
}

// DispatchLaterPair is shorthand for Pair{KeyDispatchLater, Later{d, ev}}.
func DispatchLaterPair(d time.Duration, ev Event) Pair {
	return Pair{Key: KeyDispatchLater, Payload: Later{Delay: d, Event: ev}}
}
