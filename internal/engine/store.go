package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// EffectPolicy decides what happens to the remaining effects of a dispatch
// step after one effect fails.
type EffectPolicy int

const (
	// PolicyAbort stops the step at the first failing effect. State already
	// committed stays committed. This is the default.
	PolicyAbort EffectPolicy = iota
	// PolicyContinue attempts every remaining effect and reports all
	// failures joined.
	PolicyContinue
)

func (p EffectPolicy) String() string {
	if p == PolicyContinue {
		return "continue"
	}
	return "abort"
}

// ParseEffectPolicy parses "abort" or "continue".
func ParseEffectPolicy(s string) (EffectPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return PolicyAbort, nil
	case "continue":
		return PolicyContinue, nil
	default:
		return PolicyAbort, fmt.Errorf("invalid effect policy %q: must be abort or continue", s)
	}
}

type options struct {
	logger    *slog.Logger
	scheduler Scheduler
	traceGen  TraceGenerator
	clock     *Clock
	maxSteps  int
	policy    EffectPolicy
	onError   func(Event, error)
	observers []Observer
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithScheduler sets the timer used by dispatch-later. Default: SystemScheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithTraceGenerator sets the trace token generator. Default: UUIDv7Generator.
func WithTraceGenerator(g TraceGenerator) Option {
	return func(o *options) { o.traceGen = g }
}

// WithClock sets the logical clock stamping records.
func WithClock(c *Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMaxSteps sets the handler-invocation quota per top-level dispatch.
//
// Default: 100000 (DefaultMaxSteps). Use WithMaxSteps(0) to disable.
func WithMaxSteps(n int) Option {
	return func(o *options) { o.maxSteps = n }
}

// WithEffectPolicy sets the failure policy for effects. Default: PolicyAbort.
func WithEffectPolicy(p EffectPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithErrorHandler sets a hook receiving failures of queued dispatches,
// which have no caller to return to. Failures are logged either way.
func WithErrorHandler(fn func(Event, error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithObserver adds an observer receiving every Record.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

// Store is a single-writer reactive state store.
//
// It owns the state Cell and the three registries (events, effects,
// subscriptions). State changes only through dispatched events; derived
// values are read through subscriptions.
//
// Thread-safety model:
//   - Registration, Subscribe, Query, DB: safe from any goroutine
//   - Dispatch: safe from any goroutine, FIFO
//   - DispatchSync, Drain, Run: safe from any goroutine; dispatch steps are
//     serialized by the writer lock, so exactly one step mutates state at a
//     time
//
// DispatchSync must not be called from inside a handler of the same store.
// Effect handlers that call it with the context they were given get a
// REENTRANT_DISPATCH error; any other re-entrant call deadlocks.
type Store[S any] struct {
	cell    *Cell[S]
	events  *registry[eventEntry[S]]
	effects *registry[EffectHandler]
	subs    *registry[SubFunc[S]]

	queue  *dispatchQueue
	writer sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer

	opts options
	log  *slog.Logger
}

// New creates a store holding initial as its state.
func New[S any](initial S, opts ...Option) *Store[S] {
	o := options{maxSteps: DefaultMaxSteps}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.scheduler == nil {
		o.scheduler = SystemScheduler{}
	}
	if o.traceGen == nil {
		o.traceGen = UUIDv7Generator{}
	}
	if o.clock == nil {
		o.clock = NewClock()
	}

	return &Store[S]{
		cell:      NewCell(initial),
		events:    newRegistry[eventEntry[S]](),
		effects:   newRegistry[EffectHandler](),
		subs:      newRegistry[SubFunc[S]](),
		queue:     newDispatchQueue(),
		observers: append([]Observer(nil), o.observers...),
		opts:      o,
		log:       o.logger,
	}
}

// RegEventDB registers a db-kind event handler, replacing any previous
// handler for id.
func (s *Store[S]) RegEventDB(id ID, h DBHandler[S]) {
	s.regEvent(id, eventEntry[S]{kind: KindDB, db: h})
}

// RegEventFX registers an fx-kind event handler, replacing any previous
// handler for id.
func (s *Store[S]) RegEventFX(id ID, h FXHandler[S]) {
	s.regEvent(id, eventEntry[S]{kind: KindFX, fx: h})
}

func (s *Store[S]) regEvent(id ID, e eventEntry[S]) {
	if s.events.put(id, e) {
		s.log.Debug("event handler replaced", "event", id, "kind", e.kind)
	}
}

// ClearEvent removes the event handler for id.
func (s *Store[S]) ClearEvent(id ID) {
	s.events.remove(id)
}

// HasEvent reports whether an event handler is registered for id.
func (s *Store[S]) HasEvent(id ID) bool {
	_, ok := s.events.get(id)
	return ok
}

// EventIDs returns the registered event ids, sorted.
func (s *Store[S]) EventIDs() []ID {
	return s.events.ids()
}

// RegFx registers an effect handler, replacing any previous one for id.
func (s *Store[S]) RegFx(id ID, h EffectHandler) {
	if s.effects.put(id, h) {
		s.log.Debug("effect handler replaced", "effect", id)
	}
}

// ClearFx removes the effect handler for id.
func (s *Store[S]) ClearFx(id ID) {
	s.effects.remove(id)
}

// RegSub registers a subscription computed by fn.
func (s *Store[S]) RegSub(id ID, fn SubFunc[S]) {
	if s.subs.put(id, fn) {
		s.log.Debug("subscription replaced", "sub", id)
	}
}

// RegSubField registers a subscription selecting field key from the state.
// The state must be an Indexer or a map[string]any; a missing key yields nil.
func (s *Store[S]) RegSubField(id ID, key any) {
	s.RegSub(id, fieldSub[S](key))
}

// RegSubSelector registers a subscription applying fn to the state and the
// query's extra arguments.
func (s *Store[S]) RegSubSelector(id ID, fn func(db S, args ...any) any) {
	s.RegSub(id, selectorSub(fn))
}

// ClearSub removes the subscription for id.
func (s *Store[S]) ClearSub(id ID) {
	s.subs.remove(id)
}

// Observe adds an observer and returns a function removing it.
func (s *Store[S]) Observe(fn Observer) (cancel func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
	idx := len(s.observers) - 1

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		if idx < len(s.observers) {
			s.observers[idx] = nil
		}
	}
}

// DB returns the current state.
func (s *Store[S]) DB() S {
	return s.cell.Get()
}

// Version returns the number of state commits so far.
func (s *Store[S]) Version() int64 {
	return s.cell.Version()
}

// Cell returns the state cell, for watchers.
func (s *Store[S]) Cell() *Cell[S] {
	return s.cell
}

// Clock returns the logical clock stamping records.
func (s *Store[S]) Clock() *Clock {
	return s.opts.clock
}

// Reset replaces the state outside of any event. Intended for application
// bootstrap and tests; it is serialized with dispatch steps.
func (s *Store[S]) Reset(db S) {
	s.writer.Lock()
	defer s.writer.Unlock()
	s.cell.commit(db)
}

// Query looks up the subscription for q.ID and computes it against the
// current state.
func (s *Store[S]) Query(q Query) (any, error) {
	fn, ok := s.subs.get(q.ID)
	if !ok {
		return nil, newHandlerNotFound("subscription", q.ID)
	}
	return fn(s.cell.Get(), q), nil
}

// Subscribe looks up the subscription for q.ID and returns a reaction whose
// value follows the state.
func (s *Store[S]) Subscribe(q Query) (*Reaction[S], error) {
	fn, ok := s.subs.get(q.ID)
	if !ok {
		return nil, newHandlerNotFound("subscription", q.ID)
	}
	return &Reaction[S]{cell: s.cell, query: q, fn: fn}, nil
}

// DispatchSync handles ev and all of its effects to completion before
// returning. Delayed dispatches are only scheduled.
func (s *Store[S]) DispatchSync(ctx context.Context, ev Event) error {
	if sc := scopeFrom(ctx); sc != nil && sc.owner == any(s) {
		return &DispatchError{
			Code:    ErrCodeReentrant,
			Message: "DispatchSync called from inside a dispatch step",
			Kind:    "event",
			EventID: ev.ID,
			Trace:   sc.trace,
		}
	}
	return s.process(ctx, queued{event: ev})
}

// Dispatch queues ev for the Run loop (or Drain). Dispatches are processed
// in FIFO order. Returns ErrStopped after Stop.
func (s *Store[S]) Dispatch(ev Event) error {
	if !s.queue.Enqueue(queued{event: ev}) {
		return ErrStopped
	}
	return nil
}

// Pending returns the number of queued dispatches.
func (s *Store[S]) Pending() int {
	return s.queue.Len()
}

// Drain processes every queued dispatch on the calling goroutine, including
// dispatches enqueued while draining, and returns their failures joined.
func (s *Store[S]) Drain(ctx context.Context) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		item, ok := s.queue.TryDequeue()
		if !ok {
			return errors.Join(errs...)
		}
		if err := s.process(ctx, item); err != nil {
			errs = append(errs, err)
		}
	}
}

// Run starts the single-writer event loop for queued dispatches.
// Blocks until ctx is cancelled or Stop is called and the queue is empty.
//
// ERROR HANDLING: a failed dispatch is logged with its event and passed to
// the error handler, and processing continues with the next one.
func (s *Store[S]) Run(ctx context.Context) error {
	s.log.Info("store loop starting")

	for {
		item, ok := s.queue.TryDequeue()
		if ok {
			if err := s.process(ctx, item); err != nil {
				s.reportAsync(item.event, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Info("store loop stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel is closed on Stop, which makes this case
			// fire immediately; exit once the backlog is gone.
			if s.queue.Closed() && s.queue.Len() == 0 {
				s.log.Info("store loop stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the dispatch queue. Run returns once the backlog is processed;
// later Dispatch calls and delayed dispatches fire into the void.
func (s *Store[S]) Stop() {
	s.queue.Close()
}

func (s *Store[S]) reportAsync(ev Event, err error) {
	s.log.Error("dispatch failed",
		"event", ev.ID,
		"args", ev.Args,
		"code", CodeOf(err),
		"error", err,
	)
	if s.opts.onError != nil {
		s.opts.onError(ev, err)
	}
}

// process runs one dispatch step under the writer lock.
func (s *Store[S]) process(ctx context.Context, item queued) error {
	s.writer.Lock()
	defer s.writer.Unlock()

	trace := item.trace
	if trace == "" {
		trace = s.opts.traceGen.Generate()
	}
	return s.doDispatch(ctx, item.event, trace)
}

func (s *Store[S]) emit(r Record) {
	r.Seq = s.opts.clock.Next()

	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, fn := range s.observers {
		if fn != nil {
			fn(r)
		}
	}
}

type scopeKey struct{}

// stepScope marks a context as belonging to a running dispatch step.
type stepScope struct {
	owner any
	trace string
}

func scopeFrom(ctx context.Context) *stepScope {
	if ctx == nil {
		return nil
	}
	sc, _ := ctx.Value(scopeKey{}).(*stepScope)
	return sc
}

// TraceFrom returns the trace token of the dispatch step ctx belongs to.
// Effect handlers use it to correlate their own logs.
func TraceFrom(ctx context.Context) (string, bool) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return "", false
	}
	return sc.trace, true
}
