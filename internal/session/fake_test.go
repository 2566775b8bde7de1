package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/config"
	"github.com/zsiec/rtspsource/internal/reactor"
	"github.com/zsiec/rtspsource/internal/rtsp"
)

var errRefused = errors.New("connection refused")

func videoMedia(index int) *rtsp.Media {
	return &rtsp.Media{
		Index:       index,
		Kind:        codec.KindVideo,
		PayloadType: 96,
		Format:      &codec.H264Format{PT: 96, SPS: []byte{0x67, 0x42}, PPS: []byte{0x68, 0xce}, PacketizationMode: 1},
	}
}

func audioMedia(index int) *rtsp.Media {
	return &rtsp.Media{
		Index:       index,
		Kind:        codec.KindAudio,
		PayloadType: 97,
		Format:      &codec.AACFormat{PT: 97, Rate: 48000, SizeLength: 13, IndexLength: 3, IndexDeltaLength: 3},
	}
}

func unsupportedMedia(index int) *rtsp.Media {
	return &rtsp.Media{
		Index:       index,
		Kind:        codec.KindAudio,
		PayloadType: 0,
		FormatErr:   codec.ErrUnsupported,
	}
}

// fakeServer scripts the responses of every client the factory creates.
type fakeServer struct {
	medias       []*rtsp.Media
	rng          rtsp.Range
	describeErr  error
	holdDescribe bool
	factoryErr   error
	setupErr     map[int]error
	playErr      error
	granted      *rtsp.Range
	optionsErr   error
	timeout      time.Duration

	clients []*fakeClient
}

func newFakeServer(medias ...*rtsp.Media) *fakeServer {
	if len(medias) == 0 {
		medias = []*rtsp.Media{videoMedia(0), audioMedia(1)}
	}
	return &fakeServer{medias: medias, setupErr: make(map[int]error)}
}

func (s *fakeServer) factory(url string, poster rtsp.Poster, handler rtsp.Handler) (ProtocolClient, error) {
	if s.factoryErr != nil {
		return nil, s.factoryErr
	}
	c := &fakeClient{srv: s, url: url, poster: poster, handler: handler}
	s.clients = append(s.clients, c)
	return c, nil
}

func (s *fakeServer) last() *fakeClient {
	if len(s.clients) == 0 {
		return nil
	}
	return s.clients[len(s.clients)-1]
}

type fakeClient struct {
	srv     *fakeServer
	url     string
	poster  rtsp.Poster
	handler rtsp.Handler

	closed   bool
	packets  uint64
	calls    []string
	played   []rtsp.Range
	held     []func()
	setUp    []*rtsp.Media
	optionsN int
}

// post delivers like rtsp.Client: through the poster and never after Close.
func (c *fakeClient) post(fn func()) {
	c.poster.Post(func() {
		if !c.closed {
			fn()
		}
	})
}

func (c *fakeClient) Describe(cb func(*rtsp.Description, error)) {
	c.calls = append(c.calls, "DESCRIBE")
	respond := func() {
		if c.srv.describeErr != nil {
			cb(nil, c.srv.describeErr)
			return
		}
		cb(&rtsp.Description{Range: c.srv.rng, Medias: c.srv.medias}, nil)
	}
	if c.srv.holdDescribe {
		c.held = append(c.held, respond)
		return
	}
	c.post(respond)
}

// release answers held DESCRIBE requests.
func (c *fakeClient) release() {
	for _, fn := range c.held {
		c.post(fn)
	}
	c.held = nil
}

func (c *fakeClient) Setup(m *rtsp.Media, cb func(error)) {
	c.calls = append(c.calls, "SETUP")
	err := c.srv.setupErr[m.Index]
	if err == nil {
		c.setUp = append(c.setUp, m)
	}
	c.post(func() { cb(err) })
}

func (c *fakeClient) Play(r rtsp.Range, cb func(rtsp.Range, error)) {
	c.calls = append(c.calls, "PLAY")
	c.played = append(c.played, r)
	granted := r
	if c.srv.granted != nil {
		granted = *c.srv.granted
	}
	err := c.srv.playErr
	c.post(func() { cb(granted, err) })
}

func (c *fakeClient) Options(cb func(error)) {
	c.calls = append(c.calls, "OPTIONS")
	c.optionsN++
	err := c.srv.optionsErr
	c.post(func() { cb(err) })
}

func (c *fakeClient) SessionTimeout() time.Duration { return c.srv.timeout }

func (c *fakeClient) PacketsReceived() uint64 { return c.packets }

func (c *fakeClient) Stats(m *rtsp.Media) (rtsp.Stats, bool) {
	return rtsp.Stats{Packets: c.packets}, true
}

func (c *fakeClient) Close() {
	if !c.closed {
		c.calls = append(c.calls, "CLOSE")
	}
	c.closed = true
}

// frames delivers media as if received from the network.
func (c *fakeClient) frames(m *rtsp.Media, data ...[]byte) {
	var frames []rtsp.Frame
	for _, d := range data {
		frames = append(frames, rtsp.Frame{Data: d, Timestamp: time.Unix(0, 0)})
	}
	c.post(func() { c.handler.OnFrames(m, frames) })
}

func (c *fakeClient) bye(m *rtsp.Media) {
	c.post(func() { c.handler.OnBye(m) })
}

// harness drives an engine step by step on the test goroutine.
type harness struct {
	t     *testing.T
	clock *reactor.ManualClock
	srv   *fakeServer
	e     *Engine
}

func newHarness(t *testing.T, srv *fakeServer, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	for _, fn := range mutate {
		fn(cfg)
	}
	clock := reactor.NewManualClock(time.Unix(1700000000, 0))
	e, err := newEngine(cfg, WithClientFactory(srv.factory), WithClock(clock))
	require.NoError(t, err)
	return &harness{t: t, clock: clock, srv: srv, e: e}
}

func withReconnect(d time.Duration) func(*config.Config) {
	return func(c *config.Config) { c.Source.AutoReconnect = d }
}

func withGapCheck(d time.Duration) func(*config.Config) {
	return func(c *config.Config) { c.Source.GapCheckInterval = d }
}

func withInitialSeek(d time.Duration) func(*config.Config) {
	return func(c *config.Config) { c.Source.InitialSeek = d }
}

// settle steps the worker until nothing is left to run right now.
func (h *harness) settle() {
	h.t.Helper()
	for i := 0; i < 100; i++ {
		if ran, _ := h.e.step(0); ran == 0 {
			return
		}
	}
	h.t.Fatal("worker did not settle")
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.settle()
}

// request submits kind and settles the worker.
func (h *harness) request(kind Kind, payload string) *Completion {
	h.t.Helper()
	c := h.e.Submit(kind, payload)
	h.settle()
	return c
}

func (h *harness) open() {
	h.t.Helper()
	c := h.request(KindOpen, "rtsp://camera.local/live")
	require.True(h.t, c.Resolved())
	require.NoError(h.t, c.Err())
	require.Equal(h.t, StateReadyToPlay, h.e.State())
}

func (h *harness) play() {
	h.t.Helper()
	h.open()
	c := h.request(KindPlay, "")
	require.True(h.t, c.Resolved())
	require.NoError(h.t, c.Err())
	require.Equal(h.t, StatePlaying, h.e.State())
}

func (h *harness) timers() int { return h.e.reactor.PendingTimers() }

func (h *harness) pending(role timerRole) bool { return h.e.machine.timers.pending(role) }

// sentinels drains a queue and counts end-of-stream markers.
func sentinels(t *Track) (samples, eos int) {
	for {
		s, ok := t.Queue().TryPop()
		if !ok {
			return samples, eos
		}
		if s.IsEndOfStream() {
			eos++
		} else {
			samples++
		}
	}
}
