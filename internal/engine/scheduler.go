package engine

import "time"

// Scheduler runs a callback no earlier than d from now, on any goroutine.
// It underlies dispatch-later; there is no cancellation.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// SystemScheduler schedules with time.AfterFunc.
type SystemScheduler struct{}

// AfterFunc implements Scheduler.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}
