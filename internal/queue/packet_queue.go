package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/metrics"
	"golang.org/x/time/rate"
)

// ErrTimeout is returned by PopTimeout when no sample arrived in time.
var ErrTimeout = errors.New("queue: pop timed out")

// Options bound a PacketQueue's memory. Zero values disable the bound.
type Options struct {
	MaxSamples   int
	MaxBytes     int64
	DropWarnRate float64 // overflow warnings per second
	Logger       logger.Logger
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Depth   int   `json:"depth"`
	Bytes   int64 `json:"bytes"`
	Pushed  int64 `json:"pushed"`
	Dropped int64 `json:"dropped"`
}

// PacketQueue hands samples from the session worker to exactly one consumer.
// Push never blocks; when a bound is exceeded the oldest media samples are
// dropped. The end-of-stream sentinel is always enqueued and never dropped.
type PacketQueue struct {
	name string
	opts Options

	mu      sync.Mutex
	items   []Sample
	bytes   int64
	pushed  int64
	dropped int64

	signal      chan struct{}
	warnLimiter *rate.Limiter
	logger      logger.Logger
}

func NewPacketQueue(name string, opts Options) *PacketQueue {
	l := opts.Logger
	if l == nil {
		l = logger.NewNullLogger()
	}
	warn := rate.Inf
	if opts.DropWarnRate > 0 {
		warn = rate.Limit(opts.DropWarnRate)
	}
	return &PacketQueue{
		name:        name,
		opts:        opts,
		signal:      make(chan struct{}, 1),
		warnLimiter: rate.NewLimiter(warn, 1),
		logger:      l.WithField("queue", name),
	}
}

func (q *PacketQueue) Name() string { return q.name }

// Push appends a sample. Safe from any goroutine.
func (q *PacketQueue) Push(s Sample) {
	q.mu.Lock()
	q.items = append(q.items, s)
	q.bytes += int64(s.Size())
	q.pushed++
	dropped := q.enforceLocked()
	depth := len(q.items)
	q.mu.Unlock()

	if dropped > 0 {
		for i := 0; i < dropped; i++ {
			metrics.IncQueueDropped(q.name)
		}
		if q.warnLimiter.Allow() {
			q.logger.WithField("dropped", dropped).Warn("Packet queue over budget, dropped oldest samples")
		}
	}
	metrics.SetQueueDepth(q.name, depth)
	q.notify()
}

// PushEndOfStream enqueues the sentinel.
func (q *PacketQueue) PushEndOfStream() {
	q.Push(EndOfStream())
}

// enforceLocked drops the oldest media samples until the queue fits its bounds.
func (q *PacketQueue) enforceLocked() int {
	dropped := 0
	for q.overLocked() {
		idx := -1
		for i, it := range q.items {
			if !it.IsEndOfStream() {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		q.bytes -= int64(q.items[idx].Size())
		q.items = append(q.items[:idx], q.items[idx+1:]...)
		q.dropped++
		dropped++
	}
	return dropped
}

func (q *PacketQueue) overLocked() bool {
	if q.opts.MaxSamples > 0 && len(q.items) > q.opts.MaxSamples {
		return true
	}
	return q.opts.MaxBytes > 0 && q.bytes > q.opts.MaxBytes
}

func (q *PacketQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryPop removes the head sample without blocking.
func (q *PacketQueue) TryPop() (Sample, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return Sample{}, false
	}
	s := q.items[0]
	q.items[0] = Sample{}
	q.items = q.items[1:]
	q.bytes -= int64(s.Size())
	remaining := len(q.items)
	q.mu.Unlock()

	if remaining > 0 {
		q.notify()
	}
	metrics.SetQueueDepth(q.name, remaining)
	return s, true
}

// Pop blocks until a sample is available or ctx is done.
func (q *PacketQueue) Pop(ctx context.Context) (Sample, error) {
	for {
		if s, ok := q.TryPop(); ok {
			return s, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}

// PopTimeout blocks for at most d.
func (q *PacketQueue) PopTimeout(d time.Duration) (Sample, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	s, err := q.Pop(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return Sample{}, ErrTimeout
	}
	return s, err
}

// Clear discards everything queued, sentinels included.
func (q *PacketQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.bytes = 0
	q.mu.Unlock()
	metrics.SetQueueDepth(q.name, 0)
}

func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *PacketQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:   len(q.items),
		Bytes:   q.bytes,
		Pushed:  q.pushed,
		Dropped: q.dropped,
	}
}
