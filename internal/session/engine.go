package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/config"
	apperrors "github.com/zsiec/rtspsource/internal/errors"
	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/queue"
	"github.com/zsiec/rtspsource/internal/reactor"
	"github.com/zsiec/rtspsource/internal/reconnect"
)

// Status is a point-in-time view of an engine, safe to read from any
// goroutine.
type Status struct {
	ID          string                     `json:"id"`
	URL         string                     `json:"url,omitempty"`
	State       string                     `json:"state"`
	Since       time.Time                  `json:"since"`
	Seek        time.Duration              `json:"seek_ns"`
	Duration    time.Duration              `json:"duration_ns,omitempty"`
	Reconnects  int                        `json:"reconnects"`
	Packets     uint64                     `json:"packets"`
	Timers      int                        `json:"timers"`
	Pending     int                        `json:"pending_requests"`
	Subsessions map[codec.Kind]TrackStats  `json:"subsessions,omitempty"`
	Queues      map[codec.Kind]queue.Stats `json:"queues"`
}

// Engine runs one session on a dedicated worker goroutine. Its blocking
// methods may be called from any goroutine.
type Engine struct {
	id       string
	reactor  *reactor.Reactor
	requests *RequestChannel
	machine  *machine
	video    *Track
	audio    *Track
	poll     time.Duration
	logger   logger.Logger

	state     atomic.Int32
	statusMu  sync.RWMutex
	status    Status
	observers []func(from, to State)

	started   bool
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	factory  ClientFactory
	clock    reactor.Clock
	logger   logger.Logger
	strategy reconnect.Strategy
}

// WithClientFactory replaces the rtsp.Client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(o *engineOptions) { o.factory = f }
}

// WithClock drives supervisor timers from c.
func WithClock(c reactor.Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

func WithLogger(l logger.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithStrategy overrides the reconnection policy built from configuration.
func WithStrategy(s reconnect.Strategy) Option {
	return func(o *engineOptions) { o.strategy = s }
}

// NewEngine creates an engine and starts its worker.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	e, err := newEngine(cfg, opts...)
	if err != nil {
		return nil, err
	}
	e.started = true
	go e.run()
	return e, nil
}

func newEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	o := engineOptions{
		clock:  reactor.SystemClock,
		logger: logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.strategy == nil {
		s, err := reconnect.FromConfig(cfg.Source.AutoReconnect, cfg.Reconnect)
		if err != nil {
			return nil, fmt.Errorf("reconnect policy: %w", err)
		}
		o.strategy = s
	}

	id := uuid.NewString()
	log := o.logger.WithField("session_id", id)
	if o.factory == nil {
		o.factory = NewClientFactory(cfg.Source, log.WithField("component", "rtsp"))
	}

	var e *Engine
	r := reactor.New(
		reactor.WithClock(o.clock),
		reactor.WithLogger(log.WithField("component", "reactor")),
		reactor.WithPanicHandler(func(v interface{}) { e.recoverTask(v) }),
	)
	qopts := queue.Options{
		MaxSamples:   cfg.Queue.MaxSamples,
		MaxBytes:     cfg.Queue.MaxBytes,
		DropWarnRate: cfg.Queue.DropWarnRate,
		Logger:       log,
	}

	e = &Engine{
		id:       id,
		reactor:  r,
		requests: NewRequestChannel(r.Wake),
		video:    newTrack(codec.KindVideo, qopts),
		audio:    newTrack(codec.KindAudio, qopts),
		poll:     cfg.Source.RequestPollInterval,
		logger:   log.WithField("component", "engine"),
		done:     make(chan struct{}),
	}
	if e.poll <= 0 {
		e.poll = 100 * time.Millisecond
	}

	tracks := map[codec.Kind]*Track{codec.KindVideo: e.video, codec.KindAudio: e.audio}
	d := newDriver(o.factory, r, tracks, log)
	e.machine = newMachine(Settings{
		InitialSeek:           cfg.Source.InitialSeek,
		FirstResponseTimeout:  cfg.Source.FirstResponseTimeout,
		GapCheckInterval:      cfg.Source.GapCheckInterval,
		DefaultSessionTimeout: cfg.Source.DefaultSessionTimeout,
	}, o.strategy, r, d, []*Track{e.video, e.audio}, log)
	e.machine.onState = e.onState
	e.status = Status{ID: id, State: StateInitial.String(), Since: r.Now()}
	return e, nil
}

// ID identifies the engine in logs, metrics and the registry.
func (e *Engine) ID() string { return e.id }

func (e *Engine) run() {
	defer close(e.done)
	e.logger.Info("Session worker started")
	for {
		if _, done := e.step(e.poll); done {
			break
		}
	}
	if n := e.requests.Close(); n > 0 {
		e.logger.WithField("abandoned", n).Info("Abandoned queued requests")
	}
	e.logger.Info("Session worker stopped")
}

// step runs one reactor step and, unless the machine is setting up, hands at
// most one request to it. It reports whether a Done request was processed.
func (e *Engine) step(maxWait time.Duration) (ran int, done bool) {
	if e.machine.state != StateSettingUp && e.requests.Len() > 0 {
		maxWait = 0
	}
	ran = e.reactor.Step(maxWait)
	if e.machine.state != StateSettingUp {
		if req, ok := e.requests.TryTake(); ok {
			done = e.handle(req)
			ran++
		}
	}
	e.refreshStatus()
	return ran, done
}

func (e *Engine) handle(req *Request) (done bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.WithFields(map[string]interface{}{
				"panic":      fmt.Sprint(rec),
				"stack":      string(debug.Stack()),
				"request_id": req.ID,
			}).Error("Recovered panic handling request")
			err := apperrors.NewInternalError(fmt.Sprintf("panic: %v", rec))
			e.machine.finish(req, err)
			e.machine.resolvePending(err)
			e.machine.shutdown()
			done = req.Kind == KindDone
		}
	}()
	return e.machine.handle(req)
}

// recoverTask tears the session down after a protocol callback or timer
// panicked, resolving whatever request was waiting on it.
func (e *Engine) recoverTask(v interface{}) {
	err := apperrors.NewInternalError(fmt.Sprintf("panic: %v", v))
	e.machine.resolvePending(err)
	e.machine.shutdown()
}

func (e *Engine) onState(from, to State) {
	e.state.Store(int32(to))
	e.statusMu.Lock()
	e.status.Since = e.reactor.Now()
	observers := e.observers
	e.statusMu.Unlock()
	for _, fn := range observers {
		fn(from, to)
	}
}

func (e *Engine) refreshStatus() {
	s := e.machine.status()
	pending := e.requests.Len()
	queues := map[codec.Kind]queue.Stats{
		codec.KindVideo: e.video.queue.Stats(),
		codec.KindAudio: e.audio.queue.Stats(),
	}
	e.statusMu.Lock()
	e.status.URL = s.URL
	e.status.State = s.State.String()
	e.status.Seek = s.Seek
	e.status.Duration = s.Duration
	e.status.Reconnects = s.Reconnects
	e.status.Packets = s.Packets
	e.status.Timers = s.Timers
	e.status.Pending = pending
	e.status.Subsessions = s.Subsessions
	e.status.Queues = queues
	e.statusMu.Unlock()
}

// OnStateChange registers fn to run on the worker after every transition.
// Register before the first request.
func (e *Engine) OnStateChange(fn func(from, to State)) {
	e.statusMu.Lock()
	e.observers = append(e.observers, fn)
	e.statusMu.Unlock()
}

// Submit queues a request without waiting for it.
func (e *Engine) Submit(kind Kind, payload string) *Completion {
	return e.requests.Submit(NewRequest(kind, payload))
}

func (e *Engine) do(ctx context.Context, kind Kind, payload string) error {
	return e.Submit(kind, payload).Wait(ctx)
}

// Open describes url and sets up its streams. It returns nil once the session
// is ready to play.
func (e *Engine) Open(ctx context.Context, url string) error {
	return e.do(ctx, KindOpen, url)
}

// Play starts a session that is ready to play.
func (e *Engine) Play(ctx context.Context) error {
	return e.do(ctx, KindPlay, "")
}

// Stop tears the session down. When it returns the client is closed and no
// timer is outstanding.
func (e *Engine) Stop(ctx context.Context) error {
	return e.do(ctx, KindStop, "")
}

// Reconnect restarts a playing session.
func (e *Engine) Reconnect(ctx context.Context) error {
	return e.do(ctx, KindReconnect, "")
}

// Close stops the session and the worker. Requests still queued are resolved
// with ErrShuttingDown.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		c := e.Submit(KindDone, "")
		if e.started {
			<-e.done
		} else {
			for {
				if _, done := e.step(0); done {
					break
				}
			}
			e.requests.Close()
		}
		err = c.Err()
	})
	return err
}

// Flush discards every queued sample of both streams.
func (e *Engine) Flush() {
	e.video.queue.Clear()
	e.audio.queue.Clear()
}

// Track returns the output binding of kind, or nil.
func (e *Engine) Track(kind codec.Kind) *Track {
	switch kind {
	case codec.KindVideo:
		return e.video
	case codec.KindAudio:
		return e.audio
	default:
		return nil
	}
}

// State returns the most recent state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Status returns a snapshot refreshed after every worker step.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	s := e.status
	s.State = e.State().String()
	return s
}
