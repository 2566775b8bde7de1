package session

import (
	"errors"
	"time"

	"github.com/zsiec/rtspsource/internal/codec"
	apperrors "github.com/zsiec/rtspsource/internal/errors"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/metrics"
	"github.com/zsiec/rtspsource/internal/reactor"
	"github.com/zsiec/rtspsource/internal/reconnect"
	"github.com/zsiec/rtspsource/internal/rtsp"
)

// State is the session lifecycle state. It is owned by the worker.
type State int

const (
	StateInitial State = iota
	StateSettingUp
	StateReadyToPlay
	StatePlaying
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateSettingUp:
		return "SettingUp"
	case StateReadyToPlay:
		return "ReadyToPlay"
	case StatePlaying:
		return "Playing"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Settings are the supervision parameters of a machine.
type Settings struct {
	InitialSeek           time.Duration
	FirstResponseTimeout  time.Duration
	GapCheckInterval      time.Duration
	DefaultSessionTimeout time.Duration
}

func (s *Settings) applyDefaults() {
	if s.FirstResponseTimeout <= 0 {
		s.FirstResponseTimeout = 2 * time.Second
	}
	if s.GapCheckInterval <= 0 {
		s.GapCheckInterval = 2 * time.Second
	}
	if s.DefaultSessionTimeout <= 0 {
		s.DefaultSessionTimeout = 60 * time.Second
	}
}

// machine is the session state machine. Every method runs on the worker.
type machine struct {
	settings Settings
	strategy reconnect.Strategy
	reactor  *reactor.Reactor
	driver   *driver
	timers   supervisorTimers
	tracks   []*Track
	logger   logger.Logger

	state   State
	url     string
	pending *Request

	// wantPlay makes a completed setup continue straight into PLAY.
	wantPlay bool

	initialSeek     time.Duration
	sessionDuration time.Duration
	requested       rtsp.Range
	sessionTimeout  time.Duration
	lastPackets     uint64
	reconnects      int

	onState func(from, to State)
}

func newMachine(settings Settings, strategy reconnect.Strategy, r *reactor.Reactor, d *driver,
	tracks []*Track, log logger.Logger) *machine {
	settings.applyDefaults()
	m := &machine{
		settings: settings,
		strategy: strategy,
		reactor:  r,
		driver:   d,
		timers:   supervisorTimers{reactor: r},
		tracks:   tracks,
		logger:   log.WithField("component", "machine"),
	}
	d.onFinished = m.onSessionFinished
	metrics.SetSessionState(m.state.String())
	return m
}

// handle consumes one request and reports whether it was Done.
func (m *machine) handle(req *Request) bool {
	log := m.logger.WithFields(map[string]interface{}{
		"request_id": req.ID,
		"request":    req.Kind.String(),
		"state":      m.state.String(),
	})
	log.Debug("Handling request")

	switch m.state {
	case StateInitial:
		switch req.Kind {
		case KindOpen:
			m.take(req)
			m.url = req.Payload
			m.wantPlay = false
			m.initialSeek = m.settings.InitialSeek
			m.reconnects = 0
			m.strategy.Reset()
			m.setState(StateSettingUp)
			m.openURL()
			return false
		case KindStop:
			for _, t := range m.tracks {
				t.queue.Clear()
				t.queue.PushEndOfStream()
			}
			m.finish(req, nil)
			return false
		case KindDone:
			m.finish(req, nil)
			return true
		}

	case StateReadyToPlay:
		switch req.Kind {
		case KindPlay:
			m.take(req)
			m.wantPlay = true
			m.setState(StatePlaying)
			m.play()
			return false
		case KindStop, KindDone:
			m.take(req)
			m.shutdown()
			return req.Kind == KindDone
		}

	case StatePlaying:
		switch req.Kind {
		case KindReconnect:
			m.take(req)
			m.restartPlaying()
			return false
		case KindStop, KindDone:
			m.take(req)
			m.shutdown()
			return req.Kind == KindDone
		}

	case StateReconnecting:
		switch req.Kind {
		case KindReconnect:
			m.take(req)
			m.retry()
			return false
		case KindStop, KindDone:
			m.take(req)
			m.shutdown()
			return req.Kind == KindDone
		}
	}

	m.finish(req, wrongState(req.Kind, m.state))
	return false
}

// restartPlaying replaces the client of a playing session and resumes
// playback once the new one is set up.
func (m *machine) restartPlaying() {
	m.wantPlay = true
	m.reconnects++
	m.timers.cancelAll()
	m.setState(StateReconnecting)
	m.openURL()
}

// retry runs one scheduled reconnection attempt.
func (m *machine) retry() {
	m.reconnects++
	m.timers.cancel(timerReconnect)
	m.setState(StateSettingUp)
	m.openURL()
}

// take makes req the request awaiting the current operation. A request it
// displaces can only be one left pending by an interrupted reconnection.
func (m *machine) take(req *Request) {
	if m.pending != nil {
		m.finish(m.pending, shuttingDown("superseded by "+req.Kind.String()))
	}
	m.pending = req
}

func (m *machine) resolvePending(err error) {
	if m.pending == nil {
		return
	}
	req := m.pending
	m.pending = nil
	m.finish(req, err)
}

func (m *machine) finish(req *Request, err error) {
	if !req.completion.resolve(err) {
		return
	}
	result := "ok"
	if err != nil {
		result = string(apperrors.TypeOf(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.ObserveControlRequest(req.Kind.String(), result, time.Since(req.submitted).Seconds())

	log := m.logger.WithFields(map[string]interface{}{
		"request_id": req.ID,
		"request":    req.Kind.String(),
		"result":     result,
	})
	if err != nil {
		log.WithError(err).Debug("Request failed")
		return
	}
	log.Debug("Request completed")
}

func (m *machine) setState(s State) {
	if s == m.state {
		return
	}
	from := m.state
	m.state = s
	metrics.SetSessionState(s.String())
	m.logger.WithFields(map[string]interface{}{
		"from": from.String(),
		"to":   s.String(),
	}).Info("Session state changed")
	if m.onState != nil {
		m.onState(from, s)
	}
}

// openURL creates a fresh client and issues DESCRIBE.
func (m *machine) openURL() {
	m.driver.closeSession()
	m.driver.closeClient()

	if err := m.driver.open(m.url); err != nil {
		m.toInitial()
		m.resolvePending(connectionFailed(err, "cannot create client for %s", m.url))
		return
	}
	m.timers.arm(timerFirstResponse, m.settings.FirstResponseTimeout, m.onFirstResponseTimeout)
	m.driver.describe(m.onDescribe)
}

func (m *machine) onDescribe(desc *rtsp.Description, err error) {
	m.timers.cancel(timerFirstResponse)
	if err != nil {
		if errors.Is(err, rtsp.ErrInvalidDescription) {
			m.fail(descriptionInvalid(err), false)
		} else {
			m.fail(connectionFailed(err, "describe failed"), false)
		}
		return
	}

	m.logger.WithFields(map[string]interface{}{
		"medias": len(desc.Medias),
		"range":  desc.Range.String(),
	}).Info("Session described")
	m.driver.beginSession(desc)
	m.driver.setupNext(m.onSetupComplete)
}

func (m *machine) onSetupComplete(n int) {
	if n == 0 {
		m.fail(noUsableStreams(len(m.driver.description().Medias)), false)
		return
	}
	if m.wantPlay {
		m.setState(StatePlaying)
		m.play()
		return
	}
	m.setState(StateReadyToPlay)
	m.resolvePending(nil)
}

// play issues PLAY from the current seek offset up to the end of the
// described range.
func (m *machine) play() {
	desc := m.driver.description()
	r := rtsp.Range{Start: m.initialSeek}
	m.sessionDuration = 0
	if desc.Range.Clock != "" {
		r = desc.Range
	} else if desc.Range.Bounded() {
		if d := desc.Range.End - m.initialSeek; d > 0 {
			m.sessionDuration = d
			r.End = m.initialSeek + d
		}
	}
	m.requested = r
	m.logger.WithField("range", r.String()).Info("Starting playback")
	m.driver.play(r, m.onPlay)
}

func (m *machine) onPlay(granted rtsp.Range, err error) {
	if err != nil {
		m.timers.cancelAll()
		m.fail(playRejected(err), true)
		return
	}

	m.resolvePending(nil)
	m.strategy.Reset()
	m.lastPackets = 0
	m.sessionTimeout = m.driver.sessionTimeout()
	if m.sessionTimeout <= 0 {
		m.sessionTimeout = m.settings.DefaultSessionTimeout
	}

	m.timers.arm(timerGapCheck, m.settings.GapCheckInterval, m.onGapCheck)
	m.timers.arm(timerLiveness, m.sessionTimeout/3, m.onLiveness)

	if m.sessionDuration > 0 {
		// The server may round the range it grants.
		adj := (granted.End - granted.Start) - (m.requested.End - m.requested.Start)
		if m.sessionDuration+adj > 0 {
			m.sessionDuration += adj
		}
		m.timers.arm(timerSessionEnd, m.sessionDuration, m.onSessionEnd)
	}
}

// fail is the reconnect-or-fail decision for a failure with a caller. With
// resume set, a bounded session restarts from the furthest point every
// output stream has reached.
func (m *machine) fail(cause error, resume bool) {
	delay, retry := m.strategy.NextDelay()
	if retry && resume {
		m.prepareResume()
	}
	m.driver.closeSession()
	m.driver.closeClient()

	if !retry {
		m.logger.WithError(cause).Warn("Session failed")
		m.toInitial()
		m.resolvePending(cause)
		return
	}

	m.timers.cancelAll()
	m.setState(StateReconnecting)
	m.scheduleReconnect(delay, cause)
	m.resolvePending(reconnectScheduled(cause, delay))
}

func (m *machine) scheduleReconnect(delay time.Duration, cause error) {
	reason := string(apperrors.TypeOf(cause))
	if reason == "" {
		reason = "unknown"
	}
	metrics.IncReconnect(reason)
	m.logger.WithError(cause).WithField("delay", delay.String()).Warn("Reconnection scheduled")
	m.timers.arm(timerReconnect, delay, m.onReconnectTimer)
}

// prepareResume moves the seek offset to the minimum play position of the
// active streams and desynchronizes them.
func (m *machine) prepareResume() {
	active := m.driver.activeTracks()
	if m.sessionDuration > 0 {
		if pos, ok := minPosition(active); ok {
			m.initialSeek += pos
			m.logger.WithField("seek", m.initialSeek.String()).Info("Resuming bounded session")
		}
	}
	for _, t := range active {
		t.RequestBaselineReset()
	}
}

func minPosition(tracks []*Track) (time.Duration, bool) {
	var lowest time.Duration
	found := false
	for _, t := range tracks {
		if p := t.Position(); !found || p < lowest {
			lowest = p
			found = true
		}
	}
	return lowest, found
}

// shutdown tears everything down and resolves the pending request.
func (m *machine) shutdown() {
	m.timers.cancelAll()
	m.driver.closeSession()
	m.driver.closeClient()
	m.toInitial()
	m.resolvePending(nil)
}

// toInitial cancels all timers and signals end of stream on every track.
// Callers close the session and client first.
func (m *machine) toInitial() {
	m.timers.cancelAll()
	m.wantPlay = false
	m.setState(StateInitial)
	for _, t := range m.tracks {
		t.queue.PushEndOfStream()
	}
}

func (m *machine) onSessionFinished() {
	m.logger.Info("All subsessions finished")
	m.timers.cancelAll()
	m.driver.closeSession()
	m.driver.closeClient()
	m.toInitial()
	m.resolvePending(connectionFailed(nil, "server ended every stream"))
}

// status is a snapshot for observers outside the worker.
type status struct {
	State       State
	URL         string
	Seek        time.Duration
	Duration    time.Duration
	Reconnects  int
	Packets     uint64
	Timers      int
	Subsessions map[codec.Kind]TrackStats
}

func (m *machine) status() status {
	return status{
		State:       m.state,
		URL:         m.url,
		Seek:        m.initialSeek,
		Duration:    m.sessionDuration,
		Reconnects:  m.reconnects,
		Packets:     m.driver.packetsReceived(),
		Timers:      m.timers.outstanding(),
		Subsessions: m.driver.stats(),
	}
}
