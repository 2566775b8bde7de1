package rtsp

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/auth"
	"github.com/bluenviron/gortsplib/v4/pkg/base"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/logger"
)

var (
	ErrClosed             = errors.New("rtsp client closed")
	ErrTimeout            = errors.New("rtsp request timed out")
	ErrInvalidDescription = errors.New("invalid session description")
	// ErrLocalSetup means a media could not be prepared on this side, before
	// any SETUP was sent.
	ErrLocalSetup = errors.New("local media setup failed")
)

const (
	TransportUDP = "udp"
	TransportTCP = "tcp"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultConnectTimeout = 5 * time.Second
	teardownWriteTimeout  = time.Second
)

// Poster runs completions on the owner's event loop.
type Poster interface {
	Post(fn func())
}

// Handler receives media. Its methods run through the Poster, never after
// Close has returned.
type Handler interface {
	OnFrames(m *Media, frames []Frame)
	OnBye(m *Media)
}

type Options struct {
	Transport       string // udp or tcp
	TunnelPort      int    // RTSP over HTTP when nonzero, implies tcp
	UserAgent       string
	Username        string
	Password        string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	VideoBufferSize int
	AudioBufferSize int
	Logger          logger.Logger
	Now             func() time.Time
}

// Client is one RTSP session with a server. Commands are queued and run in
// order on the client's goroutine; each reports once through the Poster.
// A Client is not reused: after Close, create a new one.
type Client struct {
	opts    Options
	url     *url.URL
	poster  Poster
	handler Handler
	logger  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan func()
	wg     sync.WaitGroup
	closed atomic.Bool

	cseq      atomic.Int32
	localSSRC uint32
	responses chan *base.Response
	dead      chan struct{}
	readErr   error

	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *conn
	sender         *auth.Sender
	session        string
	sessionTimeout time.Duration
	aggregate      *url.URL
	streams        []*stream
	channels       map[int]route
}

type route struct {
	stream *stream
	rtcp   bool
}

func NewClient(rawURL string, opts Options, poster Poster, handler Handler) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "rtsp" || u.Host == "" {
		return nil, fmt.Errorf("invalid rtsp url %q", rawURL)
	}

	if opts.Username == "" && u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	if opts.TunnelPort > 0 {
		opts.Transport = TransportTCP
	}
	if opts.Transport == "" {
		opts.Transport = TransportUDP
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNullLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:      opts,
		url:       u,
		poster:    poster,
		handler:   handler,
		logger:    opts.Logger.WithField("component", "rtsp_client"),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan func(), 16),
		localSSRC: rand.Uint32(),
		responses: make(chan *base.Response, 8),
		dead:      make(chan struct{}),
		aggregate: u,
		channels:  make(map[int]route),
	}

	c.wg.Add(1)
	go c.run()

	return c, nil
}

func (c *Client) URL() *url.URL {
	return c.url
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.cmds:
			fn()
		}
	}
}

func (c *Client) enqueue(fn func()) {
	if c.closed.Load() {
		return
	}
	select {
	case c.cmds <- fn:
	case <-c.ctx.Done():
	}
}

// post delivers fn on the owner's loop unless the client is closed by then.
func (c *Client) post(fn func()) {
	if c.closed.Load() {
		return
	}
	c.poster.Post(func() {
		if c.closed.Load() {
			return
		}
		fn()
	})
}

// Describe connects, sends DESCRIBE and parses the session description.
func (c *Client) Describe(cb func(*Description, error)) {
	c.enqueue(func() {
		desc, err := c.describe()
		c.post(func() { cb(desc, err) })
	})
}

func (c *Client) describe() (*Description, error) {
	if err := c.connect(); err != nil {
		return nil, err
	}

	resp, err := c.do(newRequest(MethodDescribe, c.url, base.Header{
		"Accept": base.HeaderValue{"application/sdp"},
	}))
	if err != nil {
		return nil, err
	}
	if ct := headerValue(resp.Header, "Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/sdp") {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidDescription, ct)
	}

	contentBase := c.url
	for _, h := range []string{"Content-Base", "Content-Location"} {
		if v := headerValue(resp.Header, h); v != "" {
			if u, err := base.ParseURL(v); err == nil {
				if u.User == nil {
					u.User = c.url.User
				}
				contentBase = (*url.URL)(u)
				break
			}
		}
	}

	desc, err := ParseDescription(resp.Body, contentBase)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescription, err)
	}

	c.mu.Lock()
	c.aggregate = desc.BaseURL
	c.mu.Unlock()

	return desc, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.ConnectTimeout)
	defer cancel()

	var (
		cn  *conn
		err error
	)
	if c.opts.TunnelPort > 0 {
		cn, err = dialTunnel(ctx, c.url, c.opts.TunnelPort, c.opts.UserAgent, c.opts.ConnectTimeout)
	} else {
		cn, err = dialConn(ctx, c.url, c.opts.ConnectTimeout)
	}
	if err != nil {
		return fmt.Errorf("connect %s: %w", c.url.Host, err)
	}

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		cn.Close()
		return ErrClosed
	}
	c.conn = cn
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"remote": cn.RemoteAddr().String(),
		"tunnel": c.opts.TunnelPort > 0,
	}).Debug("Connected")

	c.wg.Add(1)
	go c.readLoop(cn)
	return nil
}

// do sends req and waits for its response, answering one authentication
// challenge on the way.
func (c *Client) do(req *base.Request) (*base.Response, error) {
	resp, err := c.roundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == base.StatusUnauthorized {
		if sender := c.senderFor(resp); sender != nil {
			c.mu.Lock()
			c.sender = sender
			c.mu.Unlock()
			if resp, err = c.roundTrip(req); err != nil {
				return nil, err
			}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: req.Method, StatusCode: resp.StatusCode, Message: resp.StatusMessage}
	}

	if v := headerValue(resp.Header, "Session"); v != "" {
		id, timeout := parseSession(v)
		c.mu.Lock()
		c.session = id
		if timeout > 0 {
			c.sessionTimeout = timeout
		}
		c.mu.Unlock()
	}
	return resp, nil
}

// senderFor builds the authorization for a 401 challenge. It returns nil
// without credentials or when no offered scheme is supported.
func (c *Client) senderFor(resp *base.Response) *auth.Sender {
	if c.opts.Username == "" && c.opts.Password == "" {
		return nil
	}
	sender, err := auth.NewSender(resp.Header["WWW-Authenticate"], c.opts.Username, c.opts.Password)
	if err != nil {
		c.logger.WithError(err).Warn("Unusable authentication challenge")
		return nil
	}
	return sender
}

// stamp sets the per-request headers: sequence number, session and
// authorization.
func (c *Client) stamp(req *base.Request, cseq int, session string, sender *auth.Sender) {
	req.Header["CSeq"] = base.HeaderValue{strconv.Itoa(cseq)}
	if c.opts.UserAgent != "" {
		req.Header["User-Agent"] = base.HeaderValue{c.opts.UserAgent}
	}
	if session != "" {
		req.Header["Session"] = base.HeaderValue{session}
	}
	delete(req.Header, "Authorization")
	if sender != nil {
		sender.AddAuthorization(req)
	}
}

func (c *Client) write(cn *conn, req *base.Request, timeout time.Duration) error {
	data, err := req.Marshal()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	cn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := cn.bw.Write(data); err != nil {
		return err
	}
	return cn.bw.Flush()
}

func (c *Client) roundTrip(req *base.Request) (*base.Response, error) {
	c.mu.Lock()
	cn, session, sender := c.conn, c.session, c.sender
	c.mu.Unlock()
	if cn == nil {
		return nil, ErrClosed
	}

	cseq := int(c.cseq.Add(1))
	c.stamp(req, cseq, session, sender)
	if err := c.write(cn, req, c.opts.RequestTimeout); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Method, err)
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	for {
		select {
		case resp := <-c.responses:
			if n := responseCSeq(resp); n != cseq && n != -1 {
				c.logger.WithField("cseq", n).Debug("Dropping stale response")
				continue
			}
			return resp, nil
		case <-c.dead:
			return nil, fmt.Errorf("%s: connection lost: %w", req.Method, c.readErr)
		case <-timer.C:
			return nil, fmt.Errorf("%s: %w", req.Method, ErrTimeout)
		case <-c.ctx.Done():
			return nil, ErrClosed
		}
	}
}

// readLoop owns the read side of the control connection: responses,
// requests from the server, and interleaved media.
func (c *Client) readLoop(cn *conn) {
	defer c.wg.Done()

	var err error
	defer func() {
		c.readErr = err
		close(c.dead)
	}()

	for {
		var msg message
		if msg, err = readMessage(cn.br); err != nil {
			c.logReadError(err)
			return
		}

		switch {
		case msg.frame != nil:
			c.onInterleaved(msg.frame.Channel, msg.frame.Payload)
			continue
		case msg.request != nil:
			c.logger.WithField("method", string(msg.request.Method)).Debug("Ignoring request from server")
			continue
		}

		select {
		case c.responses <- msg.response:
		default:
			c.logger.Warn("Response backlog full, dropping response")
		}
	}
}

func (c *Client) logReadError(err error) {
	if c.closed.Load() || errors.Is(err, net.ErrClosed) {
		return
	}
	c.logger.WithError(err).Warn("Control connection read failed")
}

func (c *Client) onInterleaved(channel int, payload []byte) {
	c.mu.Lock()
	r, ok := c.channels[channel]
	c.mu.Unlock()
	if !ok {
		return
	}
	if r.rtcp {
		c.receiveRTCP(r.stream, payload)
	} else {
		c.receiveRTP(r.stream, payload)
	}
}

func (c *Client) receiveRTP(s *stream, buf []byte) {
	frames, err := s.handleRTP(buf)
	if err != nil {
		c.logger.WithError(err).WithField("media", s.media.String()).Debug("Dropping RTP packet")
		return
	}
	if len(frames) == 0 {
		return
	}
	m := s.media
	c.post(func() { c.handler.OnFrames(m, frames) })
}

func (c *Client) receiveRTCP(s *stream, buf []byte) {
	sr, bye, err := s.handleRTCP(buf)
	if err != nil {
		c.logger.WithError(err).WithField("media", s.media.String()).Debug("Dropping RTCP packet")
		return
	}
	if sr {
		c.sendReceiverReport(s)
	}
	if bye {
		m := s.media
		c.logger.WithField("media", m.String()).Info("RTCP BYE received")
		c.post(func() { c.handler.OnBye(m) })
	}
}

func (c *Client) sendReceiverReport(s *stream) {
	data, err := s.receiverReport(c.localSSRC).Marshal()
	if err != nil {
		return
	}
	if s.udp != nil {
		err = s.udp.writeRTCP(data)
	} else {
		err = c.writeInterleaved(s.rtcpChannel, data)
	}
	if err != nil && !c.closed.Load() {
		c.logger.WithError(err).Debug("Receiver report not sent")
	}
}

func (c *Client) writeInterleaved(channel int, data []byte) error {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrClosed
	}

	buf, err := base.InterleavedFrame{Channel: channel, Payload: data}.Marshal()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	cn.SetWriteDeadline(time.Now().Add(c.opts.RequestTimeout))
	if _, err := cn.bw.Write(buf); err != nil {
		return err
	}
	return cn.bw.Flush()
}

func (c *Client) interleaved() bool {
	return c.opts.Transport == TransportTCP
}

// Setup sends SETUP for one media. A media that cannot be prepared locally
// fails with ErrLocalSetup without contacting the server.
func (c *Client) Setup(m *Media, cb func(error)) {
	c.enqueue(func() {
		err := c.setup(m)
		c.post(func() { cb(err) })
	})
}

func (c *Client) setup(m *Media) error {
	if !m.Supported() {
		return fmt.Errorf("%w: %s: %v", ErrLocalSetup, m, m.FormatErr)
	}

	s := newStream(m, c.opts.Now)
	req := newRequest(MethodSetup, m.Control, nil)

	c.mu.Lock()
	n := len(c.streams)
	c.mu.Unlock()

	if c.interleaved() {
		s.rtpChannel, s.rtcpChannel = n*2, n*2+1
		req.Header["Transport"] = setupTransport(&[2]int{s.rtpChannel, s.rtcpChannel}, nil)
	} else {
		bufSize := c.opts.AudioBufferSize
		if m.Kind == codec.KindVideo {
			bufSize = c.opts.VideoBufferSize
		}
		pair, err := listenUDPPair(bufSize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLocalSetup, err)
		}
		s.udp = pair
		req.Header["Transport"] = setupTransport(nil, &[2]int{pair.rtpPort, pair.rtcpPort})
	}

	resp, err := c.do(req)
	if err != nil {
		if s.udp != nil {
			s.udp.close()
		}
		return err
	}

	reply, err := parseTransport(resp.Header["Transport"])
	if err != nil {
		if s.udp != nil {
			s.udp.close()
		}
		return fmt.Errorf("setup %s: transport: %w", m, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if s.udp != nil {
		host := reply.source
		if host == "" && c.conn != nil {
			host, _, _ = net.SplitHostPort(c.conn.RemoteAddr().String())
		}
		s.udp.setServer(host, reply.serverPorts)
	} else {
		if reply.interleaved != nil {
			s.rtpChannel, s.rtcpChannel = reply.interleaved[0], reply.interleaved[1]
		}
		c.channels[s.rtpChannel] = route{stream: s}
		c.channels[s.rtcpChannel] = route{stream: s, rtcp: true}
	}
	c.streams = append(c.streams, s)
	return nil
}

// Play sends PLAY for the aggregate session and starts receiving. The
// callback gets the range the server granted, or the requested one when the
// response carries none.
func (c *Client) Play(r Range, cb func(Range, error)) {
	c.enqueue(func() {
		granted, err := c.play(r)
		c.post(func() { cb(granted, err) })
	})
}

func (c *Client) play(r Range) (Range, error) {
	c.mu.Lock()
	target, streams := c.aggregate, c.streams
	c.mu.Unlock()
	if len(streams) == 0 {
		return r, fmt.Errorf("play: no media set up")
	}

	resp, err := c.do(newRequest(MethodPlay, target, base.Header{
		"Range": base.HeaderValue{r.String()},
	}))
	if err != nil {
		return r, err
	}

	granted := r
	if v := headerValue(resp.Header, "Range"); v != "" {
		if g, err := ParseRange(v); err == nil {
			granted = g
		}
	}

	for _, s := range streams {
		if s.udp == nil {
			continue
		}
		s := s
		s.udp.start(&c.wg,
			func(b []byte) { c.receiveRTP(s, b) },
			func(b []byte) { c.receiveRTCP(s, b) },
			func(err error) { c.logger.WithError(err).Warn("UDP receive failed") },
		)
	}
	return granted, nil
}

// Options sends OPTIONS, used as the keep-alive command.
func (c *Client) Options(cb func(error)) {
	c.enqueue(func() {
		_, err := c.do(newRequest(MethodOptions, c.url, nil))
		c.post(func() { cb(err) })
	})
}

// SessionTimeout returns the timeout the server granted in its Session
// header, or zero.
func (c *Client) SessionTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionTimeout
}

// Stats returns the receive counters of a set up media.
func (c *Client) Stats(m *Media) (Stats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.streams {
		if s.media == m {
			return s.stats(), true
		}
	}
	return Stats{}, false
}

// PacketsReceived sums received RTP packets over every set up media.
func (c *Client) PacketsReceived() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for _, s := range c.streams {
		total += s.packets.Load()
	}
	return total
}

// Close sends TEARDOWN without waiting for the answer, closes every socket
// and waits for the client's goroutines. No callback runs after Close.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	cn, session, sender, target, streams := c.conn, c.session, c.sender, c.aggregate, c.streams
	c.mu.Unlock()

	if cn != nil && session != "" {
		c.teardown(cn, target, session, sender)
	}

	c.cancel()
	if cn != nil {
		cn.Close()
	}
	for _, s := range streams {
		if s.udp != nil {
			s.udp.close()
		}
	}
	c.wg.Wait()
}

func (c *Client) teardown(cn *conn, target *url.URL, session string, sender *auth.Sender) {
	req := newRequest(MethodTeardown, target, nil)
	c.stamp(req, int(c.cseq.Add(1)), session, sender)
	if err := c.write(cn, req, teardownWriteTimeout); err != nil {
		c.logger.WithError(err).Debug("TEARDOWN not sent")
	}
}
