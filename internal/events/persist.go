package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventStore persists events durably. Implemented by the audit store.
type EventStore interface {
	AppendEvent(ctx context.Context, evt Event) error
}

// Persister drains the bus into durable storage. Persistence is
// best-effort for routine events; losing a safety-relevant record
// (RISK_BLOCKED, BREAKER_TRIGGERED) escalates to the fatal handler
// because the audit trail must stay complete where money was stopped.
type Persister struct {
	store   EventStore
	sub     *Subscription
	fatal   func(error)
	timeout time.Duration
	done    chan struct{}
	stopped chan struct{}
	logger  zerolog.Logger
}

// NewPersister subscribes to the bus and starts writing. fatal may be
// nil, in which case safety-relevant losses only log at error level.
func NewPersister(bus *Bus, store EventStore, fatal func(error)) *Persister {
	p := &Persister{
		store:   store,
		sub:     bus.Subscribe("audit-persist", 1024),
		fatal:   fatal,
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  log.With().Str("component", "event-persist").Logger(),
	}
	go p.run()
	return p
}

func (p *Persister) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.done:
			// Drain whatever is already buffered before stopping
			for {
				select {
				case evt, ok := <-p.sub.C():
					if !ok {
						return
					}
					p.persist(evt)
				default:
					return
				}
			}
		case evt, ok := <-p.sub.C():
			if !ok {
				return
			}
			p.persist(evt)
		}
	}
}

func (p *Persister) persist(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := p.store.AppendEvent(ctx, evt)
	if err == nil {
		return
	}

	if evt.Type.SafetyRelevant() {
		p.logger.Error().Err(err).
			Str("event_id", evt.ID).
			Str("event_type", string(evt.Type)).
			Msg("safety-relevant event lost")
		if p.fatal != nil {
			p.fatal(err)
		}
		return
	}

	p.logger.Warn().Err(err).
		Str("event_id", evt.ID).
		Str("event_type", string(evt.Type)).
		Msg("event persistence failed")
}

// Close stops the persister after draining buffered events
func (p *Persister) Close() {
	close(p.done)
	<-p.stopped
	p.sub.Close()
}
