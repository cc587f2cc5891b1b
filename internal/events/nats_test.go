package events

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEmbeddedNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(4 * time.Second) {
		t.Fatal("NATS server did not start in time")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATSBridgeForwardsEvents(t *testing.T) {
	ns := startEmbeddedNATS(t)

	bus := NewBus()
	defer bus.Close()

	bridge, err := NewNATSBridge(bus, ns.ClientURL(), "tradesentry.")
	require.NoError(t, err)
	defer bridge.Close()

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("tradesentry.events.order_filled", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, nc.Flush())

	bus.Publish(Event{
		Type:    TypeOrderFilled,
		Symbol:  "BTCUSDT",
		OrderID: "BUY_BTCUSDT_1_deadbeef",
	})

	select {
	case msg := <-received:
		var evt Event
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		assert.Equal(t, TypeOrderFilled, evt.Type)
		assert.Equal(t, "BTCUSDT", evt.Symbol)
		assert.Equal(t, "BUY_BTCUSDT_1_deadbeef", evt.OrderID)
		assert.NotZero(t, evt.Sequence)
	case <-time.After(3 * time.Second):
		t.Fatal("no NATS message within deadline")
	}
}

func TestNATSBridgeSubjects(t *testing.T) {
	b := &NATSBridge{prefix: "tradesentry."}
	assert.Equal(t, "tradesentry.events.risk_blocked", b.subject(TypeRiskBlocked))
	assert.Equal(t, "tradesentry.events.breaker_triggered", b.subject(TypeBreakerTriggered))

	bare := &NATSBridge{}
	assert.Equal(t, "events.shutdown", bare.subject(TypeShutdown))
}

func TestNATSBridgeConnectFailure(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, err := NewNATSBridge(bus, "nats://127.0.0.1:1", "x.")
	require.Error(t, err)
}
