package debounce

import (
	"sort"
	"sync"
	"time"
)

// ManualScheduler is a Scheduler whose clock only moves when Advance is
// called. Callbacks run synchronously on the goroutine calling Advance.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	scheduler *ManualScheduler
	at        time.Duration
	f         func()
	stopped   bool
	fired     bool
}

func (t *manualTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{scheduler: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward and fires every timer that became due, in
// deadline order.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*manualTimer
	remaining := s.timers[:0]
	for _, t := range s.timers {
		switch {
		case t.stopped || t.fired:
		case t.at <= s.now:
			t.fired = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	s.timers = remaining
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

// Active returns the number of timers that are neither stopped nor fired.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
