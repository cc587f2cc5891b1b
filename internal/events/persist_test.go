package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *fakeStore) AppendEvent(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestPersisterWritesEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	store := &fakeStore{}

	p := NewPersister(bus, store, nil)
	defer p.Close()

	bus.Publish(Event{Type: TypeOrderFilled, Symbol: "BTCUSDT"})
	bus.Publish(Event{Type: TypeOrderRejected, Symbol: "ETHUSDT"})

	waitFor(t, func() bool { return store.count() == 2 })
}

func TestPersisterDrainsOnClose(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	store := &fakeStore{}

	p := NewPersister(bus, store, nil)
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: TypeOrderSubmitted})
	}
	p.Close()

	assert.Equal(t, 10, store.count())
}

func TestPersisterFatalOnSafetyRelevantLoss(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	store := &fakeStore{err: errors.New("connection refused")}

	var mu sync.Mutex
	var fatalErr error
	p := NewPersister(bus, store, func(err error) {
		mu.Lock()
		fatalErr = err
		mu.Unlock()
	})
	defer p.Close()

	// Routine events fail quietly.
	bus.Publish(Event{Type: TypeOrderFilled})
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	require.NoError(t, fatalErr)
	mu.Unlock()

	// A safety-relevant loss escalates.
	bus.Publish(Event{Type: TypeRiskBlocked})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fatalErr != nil
	})
}
