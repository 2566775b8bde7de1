// Package output turns a session track into host-ready samples: timestamps on
// the host clock, Annex-B framed video and sync points.
package output

import (
	"context"
	"time"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/metrics"
	"github.com/zsiec/rtspsource/internal/queue"
	"github.com/zsiec/rtspsource/internal/timestamp"
)

// Source is the consumer side of a session track. *session.Track implements it.
type Source interface {
	Kind() codec.Kind
	Queue() *queue.PacketQueue
	Format() codec.Format
	SetPosition(d time.Duration)
	TakeBaselineReset() bool
}

// HostClock returns the host pipeline's current stream time.
type HostClock func() time.Duration

// Sample is one unit handed to the host.
type Sample struct {
	Data        []byte
	PTS         time.Duration
	SyncPoint   bool
	Codec       codec.Codec
	EndOfStream bool
}

type parameterSets interface {
	ParameterSets() [][]byte
}

// Stream consumes one Source. It is owned by a single consumer goroutine.
type Stream struct {
	src     Source
	sync    *timestamp.Synchronizer
	latency time.Duration
	clock   HostClock
	label   string
	logger  logger.Logger
}

func NewStream(src Source, latency time.Duration, clock HostClock, log logger.Logger) *Stream {
	if log == nil {
		log = logger.NewNullLogger()
	}
	label := string(src.Kind())
	return &Stream{
		src:     src,
		sync:    timestamp.NewSynchronizer(latency),
		latency: latency,
		clock:   clock,
		label:   label,
		logger:  log.WithFields(map[string]interface{}{"component": "output", "stream": label}),
	}
}

// Start desynchronizes the stream. Call it when the host (re)starts playback.
func (s *Stream) Start() {
	s.sync.Reset()
	s.src.SetPosition(0)
}

// Descriptor describes the current format, if the track has one.
func (s *Stream) Descriptor() (codec.Descriptor, bool) {
	f := s.src.Format()
	if f == nil {
		return codec.Descriptor{}, false
	}
	return f.Descriptor(), true
}

// Next blocks for the next sample. An end-of-stream sample is returned when
// the session ends; the stream stays usable for a later session.
func (s *Stream) Next(ctx context.Context) (Sample, error) {
	in, err := s.src.Queue().Pop(ctx)
	if err != nil {
		return Sample{}, err
	}
	if in.IsEndOfStream() {
		s.logger.Debug("End of stream")
		return Sample{EndOfStream: true}, nil
	}
	if s.src.TakeBaselineReset() {
		s.logger.Debug("Resetting time baselines")
		s.Start()
	}

	first := !s.sync.Established()
	out := Sample{Data: in.Data()}
	if f := s.src.Format(); f != nil {
		out.Codec = f.Codec()
		if ps, ok := f.(parameterSets); ok {
			nalus := [][]byte{in.Data()}
			if first {
				// Parameter sets travel out of band; the decoder needs them in front.
				nalus = append(ps.ParameterSets(), in.Data())
			}
			out.Data = codec.AnnexB(nalus...)
			out.SyncPoint = codec.IsRandomAccess(f.Codec(), in.Data())
		}
	}

	out.PTS = s.sync.Synchronize(in.Timestamp(), in.RTCPSynced(), s.clock())

	local, _ := s.sync.Baselines()
	pos := s.clock() - (local - s.latency)
	s.src.SetPosition(pos)
	metrics.SetPlayPosition(s.label, pos.Seconds())
	return out, nil
}

// Run calls fn for every sample until end of stream, ctx ends or fn fails.
func (s *Stream) Run(ctx context.Context, fn func(Sample) error) error {
	for {
		smp, err := s.Next(ctx)
		if err != nil {
			return err
		}
		if smp.EndOfStream {
			return nil
		}
		if err := fn(smp); err != nil {
			return err
		}
	}
}

// WallClock returns a HostClock measuring time since start.
func WallClock(start time.Time) HostClock {
	return func() time.Duration { return time.Since(start) }
}
