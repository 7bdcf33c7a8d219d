package debounce

import (
	"sync"
	"time"
)

// Timer is a scheduled call that can be stopped before it fires.
type Timer interface {
	Stop() bool
}

// Scheduler creates timers. It exists so tests can drive time by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealScheduler schedules on the wall clock via time.AfterFunc.
var RealScheduler Scheduler = realScheduler{}

// Debouncer runs a callback once a quiet period has elapsed since the last
// Trigger. Every Trigger stops the previous timer before arming a new one, so
// at most one timer is ever pending.
type Debouncer struct {
	mu         sync.Mutex
	scheduler  Scheduler
	delay      time.Duration
	timer      Timer
	generation uint64
}

func New(delay time.Duration, scheduler Scheduler) *Debouncer {
	if scheduler == nil {
		scheduler = RealScheduler
	}
	return &Debouncer{
		scheduler: scheduler,
		delay:     delay,
	}
}

// Trigger cancels any pending call and schedules fn after the delay. fn
// receives the generation it was scheduled under; the same value is returned.
func (d *Debouncer) Trigger(fn func(generation uint64)) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}

	d.generation++
	generation := d.generation
	d.timer = d.scheduler.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.generation == generation {
			d.timer = nil
		}
		d.mu.Unlock()

		fn(generation)
	})

	return generation
}

// Cancel stops the pending call, if any, and reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A callback that already left the scheduler must see a different
	// generation than the one it captured.
	d.generation++

	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

// Pending reports whether a call is scheduled and has not fired yet.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Generation returns the generation of the most recent Trigger or Cancel.
func (d *Debouncer) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation
}

// Debounce wraps fn so rapid calls collapse into one call after delay.
func Debounce(delay time.Duration, fn func()) func() {
	d := New(delay, RealScheduler)
	return func() {
		d.Trigger(func(uint64) {
			fn()
		})
	}
}
