package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

// NATSBridge mirrors bus events onto NATS subjects so external
// consumers (dashboards, alerting, downstream jobs) can tap the stream
// without linking the engine.
type NATSBridge struct {
	conn    *nats.Conn
	sub     *Subscription
	prefix  string
	done    chan struct{}
	logger  zerolog.Logger
	stopped chan struct{}
}

// NewNATSBridge connects to a NATS server and starts forwarding.
// The bridge reconnects forever on its own; publish failures are
// logged and dropped, never propagated to producers.
func NewNATSBridge(bus *Bus, url, prefix string) (*NATSBridge, error) {
	conn, err := nats.Connect(url,
		nats.Name("tradesentry-events"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	b := &NATSBridge{
		conn:    conn,
		sub:     bus.Subscribe("nats-bridge", 256),
		prefix:  prefix,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  log.With().Str("component", "nats-bridge").Logger(),
	}
	go b.run()
	return b, nil
}

func (b *NATSBridge) run() {
	defer close(b.stopped)
	for {
		select {
		case <-b.done:
			return
		case evt, ok := <-b.sub.C():
			if !ok {
				return
			}
			b.forward(evt)
		}
	}
}

func (b *NATSBridge) forward(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error().Err(err).Str("event_id", evt.ID).Msg("event not serializable")
		return
	}
	subject := b.subject(evt.Type)
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("nats publish failed")
		return
	}
	metrics.NATSMessagesPublished.Inc()
}

// subject maps an event type to "{prefix}events.{type}" in lower case
func (b *NATSBridge) subject(t Type) string {
	return fmt.Sprintf("%sevents.%s", b.prefix, strings.ToLower(string(t)))
}

// Close stops forwarding and drains the connection
func (b *NATSBridge) Close() {
	close(b.done)
	b.sub.Close()
	<-b.stopped
	if err := b.conn.Drain(); err != nil {
		b.logger.Warn().Err(err).Msg("nats drain failed")
	}
}
