package engine

import "sync"

// Reaction is a subscription bound to a store's state cell.
//
// The computation is resolved when the reaction is created; replacing the
// subscription afterwards does not affect existing reactions. Value is
// memoised per state version.
type Reaction[S any] struct {
	cell  *Cell[S]
	query Query
	fn    SubFunc[S]

	mu       sync.Mutex
	computed bool
	version  int64
	value    any
}

// Query returns the query this reaction computes.
func (r *Reaction[S]) Query() Query {
	return r.query
}

// Value returns the derived value for the current state, recomputing only
// when the state changed since the last call.
func (r *Reaction[S]) Value() any {
	db, version := r.cell.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.computed && r.version == version {
		return r.value
	}
	r.value = r.fn(db, r.query)
	r.version = version
	r.computed = true
	return r.value
}

// Watch calls fn with the recomputed value after every state commit.
// fn runs on the committing goroutine. The returned function stops watching.
func (r *Reaction[S]) Watch(fn func(value any)) (cancel func()) {
	return r.cell.Watch(func(_, _ S) {
		fn(r.Value())
	})
}
