package ghost

import (
	"context"
	"sync"
)

type queued struct {
	ev    Event
	fn    func(*Observer)
	reply chan bool
}

// Loop runs an Observer on a single goroutine. DOM callbacks, timers and the
// transport hand it events from any goroutine.
type Loop struct {
	observer *Observer

	mu     sync.Mutex
	queue  []queued
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

// NewLoop takes ownership of o: from now on o must only be reached through
// the loop.
func NewLoop(o *Observer) *Loop {
	l := &Loop{
		observer: o,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	o.post = l.Post
	return l
}

// Post queues ev without waiting. The queue is unbounded, so posting from
// inside the loop never deadlocks.
func (l *Loop) Post(ev Event) {
	l.enqueue(queued{ev: ev})
}

// Send queues ev and waits for the observer's verdict. It must not be called
// from the loop goroutine.
func (l *Loop) Send(ev Event) bool {
	reply := make(chan bool, 1)
	if !l.enqueue(queued{ev: ev, reply: reply}) {
		return false
	}
	select {
	case consumed := <-reply:
		return consumed
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop goroutine and waits for it, for reading observer
// state from elsewhere.
func (l *Loop) Do(fn func(*Observer)) {
	reply := make(chan bool, 1)
	if !l.enqueue(queued{fn: fn, reply: reply}) {
		return
	}
	select {
	case <-reply:
	case <-l.done:
	}
}

func (l *Loop) enqueue(q queued) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, q)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run processes events until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, q := range batch {
			if ctx.Err() != nil {
				return nil
			}
			if q.fn != nil {
				q.fn(l.observer)
				q.reply <- true
				continue
			}
			consumed := l.observer.Handle(q.ev)
			if q.reply != nil {
				q.reply <- consumed
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}
