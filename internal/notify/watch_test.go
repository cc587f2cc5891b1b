package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesentry/tradesentry/internal/events"
)

func newTestWatcher(sink *sinkStub) *Watcher {
	return &Watcher{
		mgr:            NewManager(SeverityInfo, sink),
		stormThreshold: defaultStormThreshold,
		stormWindow:    defaultStormWindow,
		now:            time.Now,
	}
}

func TestWatcherBreakerTrip(t *testing.T) {
	sink := &sinkStub{}
	w := newTestWatcher(sink)

	w.handle(context.Background(), events.Event{
		Type: events.TypeBreakerTriggered,
		Payload: map[string]any{
			"level":     "ACCOUNT",
			"status":    "TRIGGERED",
			"reason":    "daily_loss",
			"value":     0.11,
			"threshold": 0.10,
		},
	})

	require.Len(t, sink.sent, 1)
	n := sink.sent[0]
	assert.Equal(t, SeverityCritical, n.Severity)
	assert.Equal(t, "Circuit breaker triggered", n.Title)
	assert.Contains(t, n.Message, "daily_loss")
	assert.Equal(t, "ACCOUNT", n.Fields["level"])
	assert.Equal(t, 0.11, n.Fields["value"])
	assert.NotContains(t, n.Fields, "status")
}

func TestWatcherEmergencyShutdown(t *testing.T) {
	sink := &sinkStub{}
	w := newTestWatcher(sink)

	w.handle(context.Background(), events.Event{
		Type: events.TypeBreakerTriggered,
		Payload: map[string]any{
			"level":     "SYSTEM",
			"reason":    "manual_halt",
			"emergency": true,
			"symbols":   []string{"BTCUSDT", "ETHUSDT"},
		},
	})

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "Emergency shutdown", sink.sent[0].Title)
	assert.Equal(t, SeverityCritical, sink.sent[0].Severity)
	assert.Equal(t, "manual_halt", sink.sent[0].Fields["reason"])
}

func TestWatcherBreakerRecovered(t *testing.T) {
	sink := &sinkStub{}
	w := newTestWatcher(sink)

	w.handle(context.Background(), events.Event{
		Type:    events.TypeBreakerRecovered,
		Payload: map[string]any{"level": "STRATEGY", "strategy_id": "momentum-v1"},
	})

	require.Len(t, sink.sent, 1)
	assert.Equal(t, SeverityInfo, sink.sent[0].Severity)
	assert.Equal(t, "momentum-v1", sink.sent[0].Fields["strategy_id"])
}

func TestWatcherRiskBlockStorm(t *testing.T) {
	sink := &sinkStub{}
	w := newTestWatcher(sink)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return at }

	blocked := events.Event{
		Type:    events.TypeRiskBlocked,
		Symbol:  "BTCUSDT",
		Payload: map[string]any{"rule": "daily_trades"},
	}

	ctx := context.Background()
	for i := 0; i < defaultStormThreshold-1; i++ {
		at = at.Add(time.Second)
		w.handle(ctx, blocked)
	}
	assert.Empty(t, sink.sent, "below threshold must stay silent")

	at = at.Add(time.Second)
	w.handle(ctx, blocked)
	require.Len(t, sink.sent, 1)
	assert.Equal(t, "Risk gateway rejecting orders", sink.sent[0].Title)
	assert.Equal(t, SeverityWarning, sink.sent[0].Severity)
	assert.Equal(t, defaultStormThreshold, sink.sent[0].Fields["blocked"])
	assert.Equal(t, "daily_trades", sink.sent[0].Fields["last_rule"])

	// Inside the cooldown further rejections stay silent
	for i := 0; i < defaultStormThreshold*2; i++ {
		at = at.Add(time.Second)
		w.handle(ctx, blocked)
	}
	assert.Len(t, sink.sent, 1)

	// After the window the storm detector arms again
	at = at.Add(defaultStormWindow + time.Second)
	for i := 0; i < defaultStormThreshold; i++ {
		at = at.Add(time.Second)
		w.handle(ctx, blocked)
	}
	assert.Len(t, sink.sent, 2)
}

func TestWatcherIgnoresOrderTraffic(t *testing.T) {
	sink := &sinkStub{}
	w := newTestWatcher(sink)

	w.handle(context.Background(), events.Event{Type: events.TypeOrderFilled, Symbol: "BTCUSDT"})
	w.handle(context.Background(), events.Event{Type: events.TypeOrderSubmitted})
	assert.Empty(t, sink.sent)
}

func TestWatcherRunConsumesBus(t *testing.T) {
	sink := &sinkStub{}
	bus := events.NewBus()
	defer bus.Close()

	w := NewWatcher(bus, NewManager(SeverityInfo, sink))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// Let the subscription attach before publishing
	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.Event{
		Type:    events.TypeBreakerTriggered,
		Payload: map[string]any{"level": "SYSTEM", "reason": "volatility"},
	})

	assert.Eventually(t, func() bool { return len(sink.sent) == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}
