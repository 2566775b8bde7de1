package session

import (
	"sync"
	"time"
)

// RequestChannel is the FIFO between callers and the session worker.
type RequestChannel struct {
	mu     sync.Mutex
	items  []*Request
	closed bool
	signal chan struct{}
	wake   func()
}

// NewRequestChannel creates a channel. wake, when set, is called after every
// accepted submit so a worker blocked elsewhere notices the request.
func NewRequestChannel(wake func()) *RequestChannel {
	return &RequestChannel{
		signal: make(chan struct{}, 1),
		wake:   wake,
	}
}

// Submit enqueues req and returns its completion. After Close the request is
// resolved with ErrShuttingDown immediately.
func (c *RequestChannel) Submit(req *Request) *Completion {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		req.completion.resolve(shuttingDown("request channel closed"))
		return req.completion
	}
	req.submitted = time.Now()
	c.items = append(c.items, req)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
	if c.wake != nil {
		c.wake()
	}
	return req.completion
}

// TryTake removes the oldest request without blocking.
func (c *RequestChannel) TryTake() (*Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked()
}

// TakeBlocking waits up to timeout for a request.
func (c *RequestChannel) TakeBlocking(timeout time.Duration) (*Request, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		c.mu.Lock()
		req, ok := c.takeLocked()
		closed := c.closed
		c.mu.Unlock()
		if ok || closed {
			return req, ok
		}

		select {
		case <-c.signal:
		case <-deadline.C:
			return c.TryTake()
		}
	}
}

func (c *RequestChannel) takeLocked() (*Request, bool) {
	if len(c.items) == 0 {
		return nil, false
	}
	req := c.items[0]
	c.items[0] = nil
	c.items = c.items[1:]
	return req, true
}

// Len returns the number of queued requests.
func (c *RequestChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Close rejects further submits and resolves every queued request with
// ErrShuttingDown. It returns how many were abandoned.
func (c *RequestChannel) Close() int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true
	pending := c.items
	c.items = nil
	c.mu.Unlock()

	for _, req := range pending {
		req.completion.resolve(shuttingDown("request abandoned"))
	}
	select {
	case c.signal <- struct{}{}:
	default:
	}
	return len(pending)
}
