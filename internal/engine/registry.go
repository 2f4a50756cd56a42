package engine

import (
	"context"
	"sort"
	"sync"
)

// Kind is the kind of an event handler.
type Kind int

const (
	// KindDB handlers map (state, event) to a new state.
	KindDB Kind = iota + 1
	// KindFX handlers map (coeffects, event) to an effects description.
	KindFX
)

func (k Kind) String() string {
	switch k {
	case KindDB:
		return "db"
	case KindFX:
		return "fx"
	default:
		return "unknown"
	}
}

// DBHandler computes the next state from the current state and an event.
type DBHandler[S any] func(db S, ev Event) S

// FXHandler computes an effects description. A nil result means no effects.
type FXHandler[S any] func(cofx Coeffects[S], ev Event) *Effects[S]

// Coeffects is the input given to fx-kind handlers.
type Coeffects[S any] struct {
	// DB is the state current when the handler was invoked.
	DB S
	// Event is the event being handled.
	Event Event
	// Trace is the trace token of the dispatch.
	Trace string
}

// EffectHandler performs a side effect. ctx carries the dispatch and is
// cancelled with the caller's context. A non-nil error is reported as
// EFFECT_FAILED; any other outcome is ignored by the engine.
type EffectHandler func(ctx context.Context, payload any) error

// SubFunc is a pure computation from state and query to a derived value.
type SubFunc[S any] func(db S, q Query) any

// Indexer is implemented by state values that support field selection,
// such as appdb.DB and persistent hash maps.
type Indexer interface {
	Index(k any) (any, bool)
}

type eventEntry[S any] struct {
	kind Kind
	db   DBHandler[S]
	fx   FXHandler[S]
}

// registry is an id-keyed store of handlers. Re-registering an id replaces
// the previous entry.
type registry[V any] struct {
	mu      sync.RWMutex
	entries map[ID]V
}

func newRegistry[V any]() *registry[V] {
	return &registry[V]{entries: make(map[ID]V)}
}

// put stores v under id and reports whether an entry was replaced.
func (r *registry[V]) put(id ID, v V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.entries[id]
	r.entries[id] = v
	return existed
}

func (r *registry[V]) get(id ID) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[id]
	return v, ok
}

// remove deletes id and reports whether it was present.
func (r *registry[V]) remove(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	return ok
}

// ids returns the registered ids sorted for stable output.
func (r *registry[V]) ids() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fieldSub normalizes the "select field k" subscription form.
func fieldSub[S any](key any) SubFunc[S] {
	return func(db S, _ Query) any {
		switch v := any(db).(type) {
		case Indexer:
			val, _ := v.Index(key)
			return val
		case map[string]any:
			if k, ok := key.(string); ok {
				return v[k]
			}
			if k, ok := key.(ID); ok {
				return v[string(k)]
			}
		}
		return nil
	}
}

// selectorSub normalizes the "multi-argument selector" subscription form.
func selectorSub[S any](fn func(db S, args ...any) any) SubFunc[S] {
	return func(db S, q Query) any {
		return fn(db, q.Args...)
	}
}
