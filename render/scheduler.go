package render

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

// queue holds callbacks waiting for the next tick.
type queue struct {
	mu      sync.Mutex
	next    int
	pending map[int]func()
}

func (q *queue) schedule(fn func()) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		q.pending = make(map[int]func())
	}
	id := q.next
	q.next++
	q.pending[id] = fn
	return func() {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
	}
}

// run executes the callbacks that were pending when the tick began, in
// scheduling order. A callback canceled by an earlier one in the same tick
// does not run; callbacks scheduled during the tick wait for the next one.
func (q *queue) run() int {
	q.mu.Lock()
	ids := make([]int, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	q.mu.Unlock()
	sort.Ints(ids)

	ran := 0
	for _, id := range ids {
		q.mu.Lock()
		fn, ok := q.pending[id]
		delete(q.pending, id)
		q.mu.Unlock()
		if ok {
			fn()
			ran++
		}
	}
	return ran
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *queue) clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}

// ManualScheduler only advances when Tick is called.
type ManualScheduler struct {
	q queue
}

func (s *ManualScheduler) Schedule(fn func()) func() {
	return s.q.schedule(fn)
}

// Tick runs one refresh tick and returns how many callbacks ran.
func (s *ManualScheduler) Tick() int {
	return s.q.run()
}

// Pending is the number of callbacks waiting for the next tick.
func (s *ManualScheduler) Pending() int {
	return s.q.size()
}

// TickerScheduler ticks at a fixed rate on its own goroutine.
type TickerScheduler struct {
	q        queue
	interval time.Duration
	pin      func()

	quit chan struct{}
	done chan struct{}
	stop sync.Once
}

type TickerOption func(*TickerScheduler)

// WithThreadPin locks the ticking goroutine to its OS thread and calls pin
// on it before the first tick.
func WithThreadPin(pin func()) TickerOption {
	return func(s *TickerScheduler) {
		s.pin = pin
	}
}

// NewTickerScheduler ticks fps times per second. Non-positive rates fall
// back to 30.
func NewTickerScheduler(fps int, opts ...TickerOption) *TickerScheduler {
	if fps <= 0 {
		fps = 30
	}
	s := &TickerScheduler{
		interval: time.Second / time.Duration(fps),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop()
	return s
}

func (s *TickerScheduler) Schedule(fn func()) func() {
	return s.q.schedule(fn)
}

func (s *TickerScheduler) loop() {
	defer close(s.done)
	if s.pin != nil {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		s.pin()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.q.run()
		}
	}
}

// Close stops ticking and drops pending callbacks. It waits for a running
// tick to finish.
func (s *TickerScheduler) Close() {
	s.stop.Do(func() {
		close(s.quit)
		<-s.done
		s.q.clear()
	})
}
