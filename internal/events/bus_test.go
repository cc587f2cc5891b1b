package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no event within deadline")
		return Event{}
	}
}

func TestBusPublishAssignsIdentity(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("test", 8)
	bus.Publish(Event{Type: TypeOrderFilled, Symbol: "BTCUSDT"})

	evt := recvEvent(t, sub)
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, uint64(1), evt.Sequence)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, TypeOrderFilled, evt.Type)
}

func TestBusSequencePreservesPublishOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("test", 16)
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: TypeOrderSubmitted})
	}

	for want := uint64(1); want <= 5; want++ {
		assert.Equal(t, want, recvEvent(t, sub).Sequence)
	}
}

func TestBusFansOutToAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a := bus.Subscribe("a", 8)
	b := bus.Subscribe("b", 8)
	bus.Publish(Event{Type: TypeBreakerTriggered})

	assert.Equal(t, TypeBreakerTriggered, recvEvent(t, a).Type)
	assert.Equal(t, TypeBreakerTriggered, recvEvent(t, b).Type)
}

func TestBusDropsOnFullBuffer(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("slow", 1)
	bus.Publish(Event{Type: TypeOrderSubmitted})
	bus.Publish(Event{Type: TypeOrderFilled}) // buffer full, dropped

	assert.Equal(t, uint64(1), sub.Drops())
	// The subscriber still holds the first event.
	assert.Equal(t, TypeOrderSubmitted, recvEvent(t, sub).Type)
}

func TestBusResubscribeReplaces(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	old := bus.Subscribe("name", 8)
	fresh := bus.Subscribe("name", 8)

	bus.Publish(Event{Type: TypeOrderFilled})
	assert.Equal(t, TypeOrderFilled, recvEvent(t, fresh).Type)

	// The replaced subscription's channel closes rather than receives.
	select {
	case _, ok := <-old.C():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("old subscription neither closed nor received")
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("test", 8)
	bus.Close()

	bus.Publish(Event{Type: TypeOrderFilled})
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe("test", 8)
	sub.Close()
	sub.Close()
}

func TestSafetyRelevant(t *testing.T) {
	assert.True(t, TypeRiskBlocked.SafetyRelevant())
	assert.True(t, TypeBreakerTriggered.SafetyRelevant())
	assert.False(t, TypeOrderFilled.SafetyRelevant())
	assert.False(t, TypeShutdown.SafetyRelevant())
}
