package testutil

import (
	"sort"
	"sync"
	"time"
)

// ManualScheduler is a virtual-time scheduler for tests.
//
// Callbacks registered with AfterFunc never fire on their own; Advance moves
// virtual time forward and runs every callback that became due, in due-time
// order (registration order for equal due times). It satisfies
// engine.Scheduler.
//
// Thread-safety: All methods are safe for concurrent use. Callbacks run on
// the goroutine calling Advance, outside the internal lock, so a callback may
// schedule further callbacks.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []manualTimer
}

type manualTimer struct {
	at  time.Duration
	seq int
	fn  func()
}

// NewManualScheduler creates a scheduler at virtual time 0.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc registers f to run once virtual time reaches now+d.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d < 0 {
		d = 0
	}
	s.timers = append(s.timers, manualTimer{at: s.now + d, seq: s.seq, fn: f})
	s.seq++
}

// Advance moves virtual time forward by d and runs the callbacks that
// became due, including ones scheduled by those callbacks within the window.
// Returns the number of callbacks run.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	fired := 0
	for {
		t, ok := s.popDue(target)
		if !ok {
			return fired
		}
		t.fn()
		fired++
	}
}

// popDue removes the earliest timer due at or before target and moves
// virtual time to its due time. When nothing is due, time moves to target.
func (s *ManualScheduler) popDue(target time.Duration) (manualTimer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at != s.timers[j].at {
			return s.timers[i].at < s.timers[j].at
		}
		return s.timers[i].seq < s.timers[j].seq
	})

	if len(s.timers) == 0 || s.timers[0].at > target {
		if target > s.now {
			s.now = target
		}
		return manualTimer{}, false
	}

	t := s.timers[0]
	s.timers = s.timers[1:]
	if t.at > s.now {
		s.now = t.at
	}
	return t, true
}

// Now returns the current virtual time.
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of callbacks not yet run.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
