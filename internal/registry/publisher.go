package registry

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/zsiec/rtspsource/internal/logger"
	"github.com/zsiec/rtspsource/internal/session"
)

// StatusSource is the engine surface the publisher reads. *session.Engine
// implements it.
type StatusSource interface {
	Status() session.Status
}

// Publisher keeps one engine's record current: state changes are written as
// they happen and the full record is refreshed every heartbeat.
type Publisher struct {
	reg      Registry
	src      StatusSource
	interval time.Duration
	host     string
	logger   logger.Logger

	states  chan string
	created time.Time
}

func NewPublisher(reg Registry, src StatusSource, interval time.Duration, log logger.Logger) *Publisher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	host, _ := os.Hostname()
	return &Publisher{
		reg:      reg,
		src:      src,
		interval: interval,
		host:     host,
		logger:   log.WithField("component", "publisher"),
		states:   make(chan string, 16),
	}
}

// OnStateChange matches session.Engine.OnStateChange. It never blocks the
// worker; when the backlog is full the transition is dropped and the next
// heartbeat carries the state instead.
func (p *Publisher) OnStateChange(_, to session.State) {
	select {
	case p.states <- to.String():
	default:
		p.logger.WithField("state", to.String()).Debug("State update backlog full")
	}
}

// Run registers the engine and publishes until ctx ends, then unregisters.
func (p *Publisher) Run(ctx context.Context) error {
	if err := p.register(ctx); err != nil {
		return err
	}
	id := p.src.Status().ID

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := p.reg.Unregister(cleanup, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				p.logger.WithError(err).Warn("Failed to unregister session")
			}
			return nil

		case state := <-p.states:
			err := p.reg.UpdateState(ctx, id, state)
			if errors.Is(err, ErrSessionNotFound) {
				err = p.register(ctx)
			}
			if err != nil {
				p.logger.WithError(err).Warn("Failed to publish state")
			}

		case <-ticker.C:
			err := p.reg.Update(ctx, p.record())
			if errors.Is(err, ErrSessionNotFound) {
				// Expired while Redis was unreachable.
				err = p.register(ctx)
			}
			if err != nil {
				p.logger.WithError(err).Warn("Failed to refresh session record")
			}
		}
	}
}

func (p *Publisher) register(ctx context.Context) error {
	rec := p.record()
	if err := p.reg.Register(ctx, rec); err != nil {
		return err
	}
	p.created = rec.CreatedAt
	return nil
}

func (p *Publisher) record() *Record {
	rec := RecordFrom(p.host, p.src.Status())
	rec.CreatedAt = p.created
	return rec
}
