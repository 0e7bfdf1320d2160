package loop

import (
	"sync"
	"time"
)

// Manual is a Loop stand-in driven by the caller: posted callbacks run on
// Drain and timers fire on Advance against a virtual clock. Tests use it
// to step timers deterministically.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	queue  []func()
	timers map[uint64]*manualTimer
	nextID uint64
	closed bool
}

type manualTimer struct {
	id uint64
	at time.Duration
	fn func()
}

// NewManual returns a manual loop at virtual time zero.
func NewManual() *Manual {
	return &Manual{timers: make(map[uint64]*manualTimer)}
}

// Post queues fn until the next Drain.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, fn)
	return true
}

// AfterFunc schedules fn at the current virtual time plus d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.timers[id] = &manualTimer{id: id, at: m.now + d, fn: fn}
	return func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()
	}
}

// Every schedules fn every d until cancelled.
func (m *Manual) Every(d time.Duration, fn func()) (cancel func()) {
	var (
		stopped bool
		current func()
	)
	var schedule func()
	schedule = func() {
		if stopped {
			return
		}
		current = m.AfterFunc(d, func() {
			fn()
			schedule()
		})
	}
	schedule()
	return func() {
		stopped = true
		if current != nil {
			current()
		}
	}
}

// Drain runs queued callbacks, including ones they post, until the queue
// is empty.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in time order
// and draining the queue after each.
func (m *Manual) Advance(d time.Duration) {
	m.Drain()
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var next *manualTimer
		for _, t := range m.timers {
			if t.at > target {
				continue
			}
			if next == nil || t.at < next.at || (t.at == next.at && t.id < next.id) {
				next = t
			}
		}
		if next == nil {
			m.now = target
			m.mu.Unlock()
			m.Drain()
			return
		}
		delete(m.timers, next.id)
		m.now = next.at
		m.mu.Unlock()

		next.fn()
		m.Drain()
	}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of live timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Close drops timers and queued callbacks and rejects further work.
func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.queue = nil
	m.timers = make(map[uint64]*manualTimer)
}
