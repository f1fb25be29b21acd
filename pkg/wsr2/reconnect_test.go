// ABOUTME: Tests for the reconnection state machine
// ABOUTME: Covers open/reopen callbacks, close suppression and the retry budget
package wsr2

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callbackCounts struct {
	open, reopen, close atomic.Int32
}

func countCallbacks(c *Client) *callbackCounts {
	counts := &callbackCounts{}
	c.OnOpen(func() { counts.open.Add(1) })
	c.OnReopen(func() { counts.reopen.Add(1) })
	c.OnClose(func() { counts.close.Add(1) })
	return counts
}

func TestConnectStartsDialing(t *testing.T) {
	client, transport, _ := newIdleTestClient(t, quietConfig())

	assert.Zero(t, transport.dials(), "New must not dial")
	assert.Equal(t, StateDisconnected, client.Stats().State)

	require.NoError(t, client.Connect())
	assert.Equal(t, 1, transport.dials())
	assert.Equal(t, StateConnecting, client.Stats().State)

	require.NoError(t, client.Connect())
	assert.Equal(t, 1, transport.dials(), "second Connect is a no-op")
}

func TestHandlersRegisteredBeforeConnectSeeFirstEvents(t *testing.T) {
	client, transport, _ := newIdleTestClient(t, quietConfig())
	counts := countCallbacks(client)
	messages := make(chan Message, 1)
	client.OnMessage(func(m Message) { messages <- m })

	require.NoError(t, client.Connect())
	conn := transport.last()
	conn.open()
	conn.deliver(`{"data":"Hello Client"}`)

	assert.Equal(t, int32(1), counts.open.Load())
	require.Len(t, messages, 1)
	assert.Equal(t, `"Hello Client"`, string((<-messages).Data))
}

func TestConnectAfterCloseFails(t *testing.T) {
	client, transport, _ := newIdleTestClient(t, quietConfig())

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Connect(), ErrClosed)
	assert.Zero(t, transport.dials())
}

func TestZeroConfigReconnects(t *testing.T) {
	client, transport, _ := newTestClient(t, Config{
		AutoReconnectInterval: time.Hour,
		RequestTimeout:        time.Hour,
	})

	transport.last().open()
	transport.last().drop()

	assert.Equal(t, 2, transport.dials(), "zero config keeps reconnection on")
	assert.Equal(t, StateConnecting, client.Stats().State)
}

func TestNegativeMaxRetriesGivesUpAtFirstTick(t *testing.T) {
	config := quietConfig()
	config.AutoReconnectMaxRetries = -1
	client, transport, _ := newTestClient(t, config)

	transport.last().open()
	transport.last().drop()

	assert.Equal(t, 1, transport.dials(), "no attempt is made")
	assert.False(t, client.reconnectTick())
	assert.Equal(t, StateGivenUp, client.Stats().State)
}

func TestFirstOpenFiresOnOpen(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	counts := countCallbacks(client)

	transport.last().open()

	assert.Equal(t, int32(1), counts.open.Load())
	assert.Zero(t, counts.reopen.Load())
	assert.Equal(t, StateConnected, client.Stats().State)
	assert.True(t, client.Stats().Connected)
}

func TestReopenAfterDrop(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	counts := countCallbacks(client)

	transport.last().open()
	transport.last().drop()

	assert.Equal(t, int32(1), counts.close.Load())
	require.Equal(t, 2, transport.dials(), "close should trigger an immediate reconnect")
	assert.Equal(t, 1, client.Stats().Attempts)

	transport.last().open()

	assert.Equal(t, int32(1), counts.open.Load())
	assert.Equal(t, int32(1), counts.reopen.Load())
	assert.Zero(t, client.Stats().Attempts, "attempts reset on successful connection")
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.connectionEvents.WithLabelValues("reopen")))
}

func TestCloseFiresOncePerDisconnect(t *testing.T) {
	config := quietConfig()
	config.DisableAutoReconnect = true
	client, transport, _ := newTestClient(t, config)
	counts := countCallbacks(client)

	conn := transport.last()
	conn.open()
	conn.drop()
	conn.events.OnClose()

	assert.Equal(t, int32(1), counts.close.Load())
	assert.Equal(t, 1, transport.dials())
	assert.Equal(t, StateDisconnected, client.Stats().State)
}

func TestFailedInitialDialDoesNotFireClose(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	counts := countCallbacks(client)

	transport.last().drop()

	assert.Zero(t, counts.close.Load())
	assert.Equal(t, StateDisconnected, client.Stats().State)

	// The tick picks it up
	assert.True(t, client.reconnectTick())
	assert.Equal(t, 2, transport.dials())

	transport.last().open()
	assert.Equal(t, int32(1), counts.open.Load())
	assert.Zero(t, counts.reopen.Load())
}

func TestReconnectTickNoopWhileConnectingOrConnected(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())

	assert.True(t, client.reconnectTick())
	assert.Equal(t, 1, transport.dials())

	transport.last().open()

	assert.True(t, client.reconnectTick())
	assert.Equal(t, 1, transport.dials())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	config := quietConfig()
	config.AutoReconnectMaxRetries = 2
	config.AutoReconnectInterval = 10 * time.Millisecond
	client, transport, _ := newTestClient(t, config)
	counts := countCallbacks(client)

	transport.last().open()
	transport.setFailDial(true)
	transport.last().drop()

	assert.Eventually(t, func() bool {
		return client.Stats().State == StateGivenUp
	}, 2*time.Second, 5*time.Millisecond)

	// One initial dial plus two reconnect attempts, and nothing after that
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, transport.dials())
	assert.Equal(t, int32(1), counts.close.Load())
	assert.Zero(t, counts.reopen.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(client.metrics.reconnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.reconnectGiveUps))
}

func TestGivenUpIsPermanent(t *testing.T) {
	config := quietConfig()
	config.AutoReconnectMaxRetries = 1
	client, transport, _ := newTestClient(t, config)

	transport.last().open()
	transport.last().drop()
	require.Equal(t, 2, transport.dials())

	// The last attempt is still dialing when the budget check runs
	assert.False(t, client.reconnectTick())

	transport.last().open()
	transport.last().drop()

	assert.Equal(t, 2, transport.dials(), "no recovery after giving up")
	assert.Equal(t, StateGivenUp, client.Stats().State)
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	config := quietConfig()
	config.DisableAutoReconnect = true
	client, transport, _ := newTestClient(t, config)

	transport.last().open()
	transport.last().drop()

	assert.Equal(t, 1, transport.dials())
	assert.Equal(t, StateDisconnected, client.Stats().State)
}

func TestStaleConnectionEventsIgnored(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	counts := countCallbacks(client)

	old := transport.conn(0)
	old.open()
	old.drop()
	transport.last().open()

	var messages int
	client.OnMessage(func(Message) { messages++ })

	old.deliver(`{"data":"late"}`)
	old.events.OnOpen()
	old.events.OnClose()

	assert.Zero(t, messages)
	assert.Equal(t, int32(1), counts.open.Load())
	assert.Equal(t, int32(1), counts.reopen.Load())
	assert.Equal(t, int32(1), counts.close.Load())
	assert.True(t, client.Stats().Connected)
}

func TestCloseStopsClient(t *testing.T) {
	config := quietConfig()
	config.AutoReconnectInterval = 10 * time.Millisecond
	client, transport, _ := newTestClient(t, config)
	counts := countCallbacks(client)

	conn := transport.last()
	conn.open()

	require.NoError(t, client.Close())

	assert.Equal(t, ConnClosed, conn.State())
	assert.Zero(t, counts.close.Load(), "Close does not report a disconnect")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, transport.dials())
	assert.NoError(t, client.Close())
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateGivenUp, "given up"},
		{State(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
