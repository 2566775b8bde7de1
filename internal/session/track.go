package session

import (
	"sync/atomic"
	"time"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/queue"
)

type formatBox struct{ f codec.Format }

// Track is the output binding for one media kind: the queue the worker fills
// and the state it shares with the consumer goroutine. Apart from the queue
// everything here is atomic.
type Track struct {
	kind  codec.Kind
	queue *queue.PacketQueue

	format        atomic.Pointer[formatBox]
	position      atomic.Int64
	resetBaseline atomic.Bool
	active        atomic.Bool
}

func newTrack(kind codec.Kind, opts queue.Options) *Track {
	return &Track{
		kind:  kind,
		queue: queue.NewPacketQueue(string(kind), opts),
	}
}

func (t *Track) Kind() codec.Kind { return t.kind }

func (t *Track) Queue() *queue.PacketQueue { return t.queue }

// Format returns the format of the subsession currently feeding the track,
// or of the last one when none is active. Nil before the first setup.
func (t *Track) Format() codec.Format {
	if b := t.format.Load(); b != nil {
		return b.f
	}
	return nil
}

// Active reports whether a subsession is currently feeding the track.
func (t *Track) Active() bool { return t.active.Load() }

// Position is the consumer's current play position, excluding the initial
// seek offset.
func (t *Track) Position() time.Duration { return time.Duration(t.position.Load()) }

// SetPosition is called by the consumer after each sample.
func (t *Track) SetPosition(d time.Duration) { t.position.Store(int64(d)) }

// RequestBaselineReset asks the consumer to desynchronize before its next
// sample.
func (t *Track) RequestBaselineReset() { t.resetBaseline.Store(true) }

// TakeBaselineReset reports and clears a pending baseline reset.
func (t *Track) TakeBaselineReset() bool { return t.resetBaseline.Swap(false) }

func (t *Track) bind(f codec.Format) {
	t.format.Store(&formatBox{f: f})
	t.active.Store(true)
}

func (t *Track) unbind() { t.active.Store(false) }
