// Package events provides the in-process event bus that carries order
// and safety lifecycle notifications between the trading engine, the
// audit trail, the websocket feed and NATS.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tradesentry/tradesentry/internal/metrics"
)

// Type enumerates the lifecycle notifications carried on the bus
type Type string

const (
	TypeOrderSubmitted   Type = "ORDER_SUBMITTED"
	TypeOrderFilled      Type = "ORDER_FILLED"
	TypeOrderRejected    Type = "ORDER_REJECTED"
	TypeOrderCancelled   Type = "ORDER_CANCELLED"
	TypePositionUpdated  Type = "POSITION_UPDATED"
	TypeRiskBlocked      Type = "RISK_BLOCKED"
	TypeBreakerTriggered Type = "BREAKER_TRIGGERED"
	TypeBreakerRecovered Type = "BREAKER_RECOVERED"
	TypeShutdown         Type = "SHUTDOWN"
)

// SafetyRelevant reports whether losing this event type is unacceptable
func (t Type) SafetyRelevant() bool {
	return t == TypeRiskBlocked || t == TypeBreakerTriggered
}

// Event is a single bus notification. Payload carries type-specific
// detail and must be JSON-serializable.
type Event struct {
	ID        string         `json:"id"`
	Sequence  uint64         `json:"sequence"`
	Type      Type           `json:"type"`
	Symbol    string         `json:"symbol,omitempty"`
	OrderID   string         `json:"order_id,omitempty"` // client order id
	TraceID   string         `json:"trace_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscription is one consumer's buffered view of the stream. A slow
// consumer loses events rather than stalling producers; losses are
// counted.
type Subscription struct {
	name  string
	ch    chan Event
	drops atomic.Uint64
	bus   *Bus
	once  sync.Once
}

// C returns the receive channel
func (s *Subscription) C() <-chan Event { return s.ch }

// Name identifies the subscriber
func (s *Subscription) Name() string { return s.name }

// Drops reports how many events this subscriber has lost
func (s *Subscription) Drops() uint64 { return s.drops.Load() }

// Close detaches the subscription and closes its channel
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.ch)
	})
}

// Bus fans events out to named subscribers. Publish never blocks:
// events are assigned a global sequence under the publish lock and
// delivered to each subscriber's buffer, dropping on overflow.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]*Subscription
	seq    uint64
	closed bool
	logger zerolog.Logger
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string]*Subscription),
		logger: log.With().Str("component", "eventbus").Logger(),
	}
}

// Subscribe registers a named consumer with the given buffer size.
// Re-subscribing an existing name replaces the previous subscription.
func (b *Bus) Subscribe(name string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if old, ok := b.subs[name]; ok {
		delete(b.subs, name)
		go old.Close()
	}

	sub := &Subscription{
		name: name,
		ch:   make(chan Event, buffer),
		bus:  b,
	}
	b.subs[name] = sub
	return sub
}

// unsubscribe removes s only if it is still the registered consumer
// for its name; a replacement subscription stays untouched.
func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[s.name]; ok && cur == s {
		delete(b.subs, s.name)
	}
}

// Publish assigns identity and sequence to the event and delivers it
// to every subscriber without blocking. Events published from a single
// goroutine are observed in publish order by every subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	evt.Sequence = b.seq
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			sub.drops.Add(1)
			metrics.EventsDropped.WithLabelValues(sub.name).Inc()
			b.logger.Warn().
				Str("subscriber", sub.name).
				Str("event_type", string(evt.Type)).
				Uint64("total_drops", sub.drops.Load()).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// Close stops delivery and closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
