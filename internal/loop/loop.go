// Package loop provides a single-goroutine event loop. Callbacks posted to a
// Loop run one at a time in FIFO order, so state confined to the loop needs
// no locking. Timers post their callbacks onto the loop when they fire.
package loop

import (
	"sync"
	"time"
)

// Loop runs posted callbacks on one goroutine.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	timers  map[uint64]*time.Timer
	nextID  uint64
	wg      sync.WaitGroup
	onPanic func(any)
}

// Option configures a Loop.
type Option func(*Loop)

// WithPanicHandler sets a handler for panics raised by callbacks. Without
// one a panicking callback is dropped and the loop keeps running.
func WithPanicHandler(fn func(any)) Option {
	return func(l *Loop) { l.onPanic = fn }
}

// New starts a loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		timers: make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			l.call(fn)
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.onPanic != nil {
			l.onPanic(r)
		}
	}()
	fn()
}

// Post queues fn. It reports false if the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to run. It reports false if the loop closed
// first. Do must not be called from the loop itself.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
		return false
	}
}

// AfterFunc posts fn onto the loop after d. The returned cancel stops the
// timer; a callback already queued does not run after cancel.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	l.nextID++
	id := l.nextID
	l.timers[id] = time.AfterFunc(d, func() {
		l.Post(func() {
			if l.release(id) {
				fn()
			}
		})
	})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if t, ok := l.timers[id]; ok {
			t.Stop()
			delete(l.timers, id)
		}
	}
}

// release drops a fired timer and reports whether it was still live.
func (l *Loop) release(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[id]; !ok {
		return false
	}
	delete(l.timers, id)
	return true
}

// Every posts fn onto the loop every d until cancelled.
func (l *Loop) Every(d time.Duration, fn func()) (cancel func()) {
	var (
		mu      sync.Mutex
		stopped bool
		current func()
	)
	var schedule func()
	schedule = func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		current = l.AfterFunc(d, func() {
			fn()
			schedule()
		})
	}
	schedule()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if current != nil {
			current()
		}
	}
}

// Pending returns the number of live timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Close stops all timers and drops queued callbacks. A callback already
// running finishes; Wait blocks until it has. Close is idempotent and may be
// called from a callback.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}

// Wait blocks until the loop goroutine has exited. It must not be called
// from the loop itself.
func (l *Loop) Wait() { l.wg.Wait() }

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Done is closed when the loop is closed.
func (l *Loop) Done() <-chan struct{} { return l.done }
