package engine

import (
	"sync"
	"sync/atomic"
)

// Cell holds the current state: the single source of truth of a Store.
//
// The value is replaced wholesale on every commit, never mutated in place.
// Readers load an immutable {value, version} snapshot and therefore always
// observe a fully-formed state. Only the store's dispatch step writes.
type Cell[S any] struct {
	cur atomic.Pointer[snapshot[S]]

	mu       sync.Mutex
	watchers map[int]func(old, new S)
	nextID   int
}

type snapshot[S any] struct {
	value   S
	version int64
}

// NewCell creates a cell holding initial at version 0.
func NewCell[S any](initial S) *Cell[S] {
	c := &Cell[S]{watchers: make(map[int]func(old, new S))}
	c.cur.Store(&snapshot[S]{value: initial})
	return c
}

// Get returns the current state.
func (c *Cell[S]) Get() S {
	return c.cur.Load().value
}

// Version returns the number of commits so far.
func (c *Cell[S]) Version() int64 {
	return c.cur.Load().version
}

// Snapshot returns the current state and its version together.
func (c *Cell[S]) Snapshot() (S, int64) {
	snap := c.cur.Load()
	return snap.value, snap.version
}

// Watch registers fn to be called after every commit with the previous and
// new state. Watchers run synchronously on the committing goroutine.
// The returned function removes the watcher.
func (c *Cell[S]) Watch(fn func(old, new S)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.watchers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

// commit replaces the value and bumps the version, then notifies watchers.
func (c *Cell[S]) commit(v S) int64 {
	prev := c.cur.Load()
	next := &snapshot[S]{value: v, version: prev.version + 1}
	c.cur.Store(next)

	c.mu.Lock()
	fns := make([]func(old, new S), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(prev.value, v)
	}
	return next.version
}
