package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/output"
	"github.com/zsiec/rtspsource/internal/session"
)

// drainer plays the host side of the session: one consumer per track,
// optionally writing the video elementary stream to dump.
type drainer struct {
	streams map[codec.Kind]*output.Stream
	dump    io.Writer
	log     *logrus.Logger

	counts map[codec.Kind]*atomic.Uint64
	ended  chan struct{}
	once   sync.Once
}

func newDrainer(e *session.Engine, latency time.Duration, dump io.Writer, log *logrus.Logger) *drainer {
	clock := output.WallClock(time.Now())
	d := &drainer{
		streams: make(map[codec.Kind]*output.Stream),
		dump:    dump,
		log:     log,
		counts:  make(map[codec.Kind]*atomic.Uint64),
		ended:   make(chan struct{}),
	}
	for _, kind := range []codec.Kind{codec.KindVideo, codec.KindAudio} {
		adapter := loggerFor(log, "output")
		d.streams[kind] = output.NewStream(e.Track(kind), latency, clock, adapter)
		d.counts[kind] = new(atomic.Uint64)
	}
	return d
}

// Ended is closed when a session ends on its own: every end-of-stream
// marker is pushed when the engine returns to Initial.
func (d *drainer) Ended() <-chan struct{} { return d.ended }

func (d *drainer) run(ctx context.Context) {
	var wg sync.WaitGroup
	for kind, s := range d.streams {
		wg.Add(1)
		go func(kind codec.Kind, s *output.Stream) {
			defer wg.Done()
			d.consume(ctx, kind, s)
		}(kind, s)
	}
	wg.Wait()
}

func (d *drainer) consume(ctx context.Context, kind codec.Kind, s *output.Stream) {
	log := d.log.WithField("stream", kind)
	started := false
	for {
		smp, err := s.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("Stream stopped")
			}
			return
		}
		if smp.EndOfStream {
			log.WithField("samples", d.counts[kind].Load()).Info("End of stream")
			started = false
			d.once.Do(func() { close(d.ended) })
			continue
		}
		if !started {
			if desc, ok := s.Descriptor(); ok {
				log.WithFields(logrus.Fields{
					"codec":       desc.Codec,
					"width":       desc.Width,
					"height":      desc.Height,
					"sample_rate": desc.SampleRate,
					"channels":    desc.Channels,
				}).Info("Stream started")
			}
			started = true
		}
		d.counts[kind].Add(1)

		if d.dump != nil && kind == codec.KindVideo {
			if _, err := d.dump.Write(smp.Data); err != nil {
				log.WithError(err).Error("Dump write failed")
				d.dump = nil
			}
		}
	}
}

func (d *drainer) summary() logrus.Fields {
	f := logrus.Fields{}
	for kind, c := range d.counts {
		f[string(kind)+"_samples"] = c.Load()
	}
	return f
}
