package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the control command carried by a Request.
type Kind int

const (
	KindOpen Kind = iota
	KindPlay
	KindStop
	KindReconnect
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "Open"
	case KindPlay:
		return "Play"
	case KindStop:
		return "Stop"
	case KindReconnect:
		return "Reconnect"
	case KindDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Completion is the single-use result slot of a Request. The first resolve
// wins; later ones are ignored.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

func (c *Completion) resolve(err error) bool {
	first := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		first = true
	})
	return first
}

// Done is closed once the request has been resolved.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the resolution. It is only meaningful after Done is closed.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Resolved reports whether the completion has been resolved.
func (c *Completion) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request is resolved or ctx ends. Abandoning the wait
// does not cancel the request.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request is one control command travelling from a caller to the worker.
type Request struct {
	ID      string
	Kind    Kind
	Payload string // URL for Open

	submitted  time.Time
	completion *Completion
}

// NewRequest creates a request with a fresh completion.
func NewRequest(kind Kind, payload string) *Request {
	return &Request{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		completion: newCompletion(),
	}
}

// Completion returns the request's result slot.
func (r *Request) Completion() *Completion { return r.completion }

