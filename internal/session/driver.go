package session

import (
	"time"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/config"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/queue"
	"github.com/zsiec/rtspsource/internal/rtsp"
)

// ProtocolClient is the asynchronous protocol surface the driver needs.
// Every callback runs through the Poster handed to the factory and none runs
// after Close returns. *rtsp.Client implements it.
type ProtocolClient interface {
	Describe(cb func(*rtsp.Description, error))
	Setup(m *rtsp.Media, cb func(error))
	Play(r rtsp.Range, cb func(rtsp.Range, error))
	Options(cb func(error))
	SessionTimeout() time.Duration
	PacketsReceived() uint64
	Stats(m *rtsp.Media) (rtsp.Stats, bool)
	Close()
}

// ClientFactory opens a client for url. An error here is not retried.
type ClientFactory func(url string, poster rtsp.Poster, handler rtsp.Handler) (ProtocolClient, error)

// NewClientFactory returns a factory creating rtsp.Clients configured from cfg.
func NewClientFactory(cfg config.SourceConfig, log logger.Logger) ClientFactory {
	return func(url string, poster rtsp.Poster, handler rtsp.Handler) (ProtocolClient, error) {
		return rtsp.NewClient(url, rtsp.Options{
			Transport:       cfg.Transport,
			TunnelPort:      cfg.TunnelPort,
			UserAgent:       cfg.UserAgent,
			Username:        cfg.Username,
			Password:        cfg.Password,
			ConnectTimeout:  cfg.ConnectTimeout,
			VideoBufferSize: cfg.VideoBufferSize,
			AudioBufferSize: cfg.AudioBufferSize,
			Logger:          log,
		}, poster, handler)
	}
}

// subsession is one set up media and the sink funnelling it into a track.
type subsession struct {
	media  *rtsp.Media
	track  *Track
	open   bool
	frames uint64
}

func (s *subsession) push(f rtsp.Frame) {
	if !s.open {
		return
	}
	s.track.queue.Push(queue.NewSample(f.Data, f.Timestamp, f.RTCPSynced))
	s.frames++
}

// close reports whether the sink was open. Closing twice is a no-op.
func (s *subsession) close() bool {
	if !s.open {
		return false
	}
	s.open = false
	s.track.unbind()
	return true
}

// driver owns the protocol client and the subsessions of the current
// session. It runs on the worker goroutine only.
type driver struct {
	factory ClientFactory
	poster  rtsp.Poster
	tracks  map[codec.Kind]*Track
	logger  logger.Logger

	client      ProtocolClient
	desc        *rtsp.Description
	subsessions []*subsession
	next        int

	// onFinished runs when the last open sink has been closed by the server.
	onFinished func()
}

func newDriver(factory ClientFactory, poster rtsp.Poster, tracks map[codec.Kind]*Track, log logger.Logger) *driver {
	return &driver{
		factory: factory,
		poster:  poster,
		tracks:  tracks,
		logger:  log.WithField("component", "driver"),
	}
}

func (d *driver) open(url string) error {
	c, err := d.factory(url, d.poster, d)
	if err != nil {
		return err
	}
	d.client = c
	return nil
}

func (d *driver) hasClient() bool { return d.client != nil }

func (d *driver) describe(cb func(*rtsp.Description, error)) {
	d.client.Describe(cb)
}

// beginSession starts a new session on desc, replacing any previous one.
func (d *driver) beginSession(desc *rtsp.Description) {
	d.closeSession()
	d.desc = desc
	d.next = 0
}

func (d *driver) description() *rtsp.Description { return d.desc }

// setupNext walks the media list one SETUP at a time and calls done with the
// number of subsessions set up once every media has been considered.
func (d *driver) setupNext(done func(n int)) {
	for d.next < len(d.desc.Medias) {
		m := d.desc.Medias[d.next]
		d.next++

		log := d.logger.WithField("media", m.String())
		if !m.Supported() {
			log.WithError(m.FormatErr).Info("Skipping unsupported media")
			continue
		}
		track := d.tracks[m.Format.Kind()]
		if track == nil {
			log.Info("Skipping media without an output stream")
			continue
		}
		if d.claimed(track) {
			log.Info("Skipping media, output stream already fed by another subsession")
			continue
		}

		d.client.Setup(m, func(err error) {
			if err != nil {
				log.WithError(err).Warn("Subsession setup failed")
			} else {
				track.bind(m.Format)
				d.subsessions = append(d.subsessions, &subsession{media: m, track: track, open: true})
				log.Info("Subsession set up")
			}
			d.setupNext(done)
		})
		return
	}
	done(len(d.subsessions))
}

func (d *driver) claimed(t *Track) bool {
	for _, s := range d.subsessions {
		if s.track == t {
			return true
		}
	}
	return false
}

func (d *driver) play(r rtsp.Range, cb func(rtsp.Range, error)) {
	d.client.Play(r, cb)
}

func (d *driver) options(cb func(error)) {
	d.client.Options(cb)
}

func (d *driver) sessionTimeout() time.Duration {
	if d.client == nil {
		return 0
	}
	return d.client.SessionTimeout()
}

func (d *driver) packetsReceived() uint64 {
	if d.client == nil {
		return 0
	}
	return d.client.PacketsReceived()
}

// activeTracks returns the tracks fed by an open sink.
func (d *driver) activeTracks() []*Track {
	var out []*Track
	for _, s := range d.subsessions {
		if s.open {
			out = append(out, s.track)
		}
	}
	return out
}

// TrackStats is the receive view of one subsession.
type TrackStats struct {
	Media  string     `json:"media"`
	Frames uint64     `json:"frames"`
	RTP    rtsp.Stats `json:"rtp"`
}

func (d *driver) stats() map[codec.Kind]TrackStats {
	out := make(map[codec.Kind]TrackStats)
	for _, s := range d.subsessions {
		ts := TrackStats{Media: s.media.String(), Frames: s.frames}
		if d.client != nil {
			ts.RTP, _ = d.client.Stats(s.media)
		}
		out[s.track.kind] = ts
	}
	return out
}

// closeSession closes every sink and forgets the session. The TEARDOWN
// itself goes out when the client is closed.
func (d *driver) closeSession() {
	for _, s := range d.subsessions {
		s.close()
	}
	d.subsessions = nil
	d.desc = nil
	d.next = 0
}

func (d *driver) closeClient() {
	if d.client == nil {
		return
	}
	d.client.Close()
	d.client = nil
}

// OnFrames implements rtsp.Handler.
func (d *driver) OnFrames(m *rtsp.Media, frames []rtsp.Frame) {
	s := d.find(m)
	if s == nil {
		return
	}
	for _, f := range frames {
		s.push(f)
	}
}

// OnBye implements rtsp.Handler.
func (d *driver) OnBye(m *rtsp.Media) {
	s := d.find(m)
	if s == nil || !s.close() {
		return
	}
	d.logger.WithField("media", m.String()).Info("Subsession finished")
	if len(d.activeTracks()) == 0 && d.onFinished != nil {
		d.onFinished()
	}
}

func (d *driver) find(m *rtsp.Media) *subsession {
	for _, s := range d.subsessions {
		if s.media == m {
			return s
		}
	}
	return nil
}
