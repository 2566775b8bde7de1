// Package reactor is a single-goroutine event loop: goroutine-safe task posting
// plus cancelable one-shot timers, drained one step at a time by the owner.
package reactor

import (
	"container/heap"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/zsiec/rtspsource/internal/logger"
)

// Timer is a one-shot task scheduled on a Reactor.
type Timer struct {
	r     *Reactor
	when  time.Time
	fn    func()
	index int // position in the heap, -1 once removed
	seq   uint64
	done  bool
}

// Cancel stops the timer. It reports whether the timer was still pending.
// Cancelling a fired or cancelled timer is a no-op.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	if t.index >= 0 {
		heap.Remove(&t.r.timers, t.index)
	}
	return true
}

// Pending reports whether the timer has neither fired nor been cancelled.
func (t *Timer) Pending() bool {
	if t == nil {
		return false
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	return !t.done
}

// When returns the scheduled deadline.
func (t *Timer) When() time.Time {
	return t.when
}

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Reactor runs posted tasks and due timers on whichever goroutine calls Step.
type Reactor struct {
	mu     sync.Mutex
	posted []func()
	timers timerHeap
	seq    uint64
	notify chan struct{}
	clock  Clock
	logger logger.Logger

	onPanic func(v interface{})
}

// Option configures a Reactor.
type Option func(*Reactor)

func WithClock(c Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// WithPanicHandler calls fn on the stepping goroutine with the value of any
// panic recovered from a task or timer.
func WithPanicHandler(fn func(v interface{})) Option {
	return func(r *Reactor) { r.onPanic = fn }
}

func New(opts ...Option) *Reactor {
	r := &Reactor{
		notify: make(chan struct{}, 1),
		clock:  SystemClock,
		logger: logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the reactor clock's time.
func (r *Reactor) Now() time.Time {
	return r.clock.Now()
}

// Post queues fn to run on the next Step. Safe from any goroutine; never blocks.
func (r *Reactor) Post(fn func()) {
	r.mu.Lock()
	r.posted = append(r.posted, fn)
	r.mu.Unlock()
	r.Wake()
}

// Schedule runs fn once after d. Safe from any goroutine.
func (r *Reactor) Schedule(d time.Duration, fn func()) *Timer {
	t := &Timer{r: r, when: r.clock.Now().Add(d), fn: fn}
	r.mu.Lock()
	r.seq++
	t.seq = r.seq
	heap.Push(&r.timers, t)
	r.mu.Unlock()
	r.Wake()
	return t
}

// Wake interrupts a Step that is waiting for work.
func (r *Reactor) Wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// PendingTimers returns the number of scheduled, not yet fired timers.
func (r *Reactor) PendingTimers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Step runs every task posted so far and every timer that is due. When there
// is nothing to run it first waits up to maxWait, bounded by the next timer
// deadline, for work to arrive or for Wake. It returns the number of tasks run.
func (r *Reactor) Step(maxWait time.Duration) int {
	r.mu.Lock()
	if maxWait > 0 && len(r.posted) == 0 && !r.timerDueLocked() {
		// work behind an earlier wake is already visible under the lock
		select {
		case <-r.notify:
		default:
		}

		wait := maxWait
		if len(r.timers) > 0 {
			if d := r.timers[0].when.Sub(r.clock.Now()); d < wait {
				wait = d
			}
		}
		r.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-r.notify:
			case <-t.C:
			}
			t.Stop()
		}
		r.mu.Lock()
	}

	posted := r.posted
	r.posted = nil
	now := r.clock.Now()
	cutoff := r.seq
	r.mu.Unlock()

	ran := 0
	for _, fn := range posted {
		r.run(fn)
		ran++
	}

	// Timers cancelled by a task above are skipped; timers armed during this
	// step wait for the next one.
	for {
		t := r.popDue(now, cutoff)
		if t == nil {
			break
		}
		r.run(t.fn)
		ran++
	}
	return ran
}

func (r *Reactor) timerDueLocked() bool {
	return len(r.timers) > 0 && !r.timers[0].when.After(r.clock.Now())
}

func (r *Reactor) popDue(now time.Time, cutoff uint64) *Timer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.timers) == 0 {
		return nil
	}
	t := r.timers[0]
	if t.when.After(now) || t.seq > cutoff {
		return nil
	}
	heap.Pop(&r.timers)
	t.done = true
	return t
}

func (r *Reactor) run(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(map[string]interface{}{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			}).Error("Recovered panic in reactor task")
			r.panicked(rec)
		}
	}()
	fn()
}

func (r *Reactor) panicked(v interface{}) {
	if r.onPanic == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", fmt.Sprint(rec)).Error("Panic handler failed")
		}
	}()
	r.onPanic(v)
}
