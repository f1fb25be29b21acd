// ABOUTME: Tests for request correlation and inbound dispatch
// ABOUTME: Covers id allocation, response routing and malformed frames
package wsr2

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAllocatesDistinctIDs(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	for i := 0; i < 5; i++ {
		require.NoError(t, client.Send(map[string]int{"n": i}, func(Response) {}))
	}

	stats := client.Stats()
	assert.Equal(t, 5, stats.Pending)
	assert.Equal(t, 5, stats.Queued)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, conn.sentIDs(t))
}

func TestSendEmbedsIDAndData(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	require.NoError(t, client.Send(map[string]int{"x": 1}, func(Response) {}))

	assert.Equal(t, []string{`{"id":0,"data":{"x":1}}`}, conn.frames())
}

func TestSendWithoutCallbackCarriesNoID(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	require.NoError(t, client.Send(map[string]int{"x": 1}, nil))

	assert.Equal(t, []string{`{"data":{"x":1}}`}, conn.frames())
	stats := client.Stats()
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.NextID)
}

func TestResponseRoundTrip(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var got []Response
	require.NoError(t, client.Send("request", func(r Response) {
		got = append(got, r)
	}))

	conn.deliver(`{"id":0,"data":{"accountId":1234}}`)

	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].ID)
	assert.JSONEq(t, `{"accountId":1234}`, string(got[0].Data))
	assert.Zero(t, client.Stats().Pending)

	// A duplicate response has nobody to go to
	conn.deliver(`{"id":0,"data":{"accountId":1234}}`)

	assert.Len(t, got, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.responses))
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.framesDropped.WithLabelValues("unroutable")))
}

func TestResponseWithoutPendingRequestIsIgnored(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var unsolicited int
	client.OnMessage(func(Message) { unsolicited++ })

	conn.deliver(`{"id":99,"data":{}}`)

	assert.Zero(t, unsolicited)
}

func TestUnsolicitedMessage(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var got []Message
	client.OnMessage(func(m Message) { got = append(got, m) })

	conn.deliver(`{"data":"Hello Client"}`)

	require.Len(t, got, 1)
	assert.False(t, got[0].IsRaw())
	assert.Equal(t, `"Hello Client"`, string(got[0].Data))
}

func TestNonJSONDeliveredRaw(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var got []Message
	client.OnMessage(func(m Message) { got = append(got, m) })

	assert.NotPanics(t, func() { conn.deliver("not json") })

	require.Len(t, got, 1)
	assert.True(t, got[0].IsRaw())
	assert.Equal(t, "not json", string(got[0].Raw))
}

func TestNonJSONWithoutHandler(t *testing.T) {
	_, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	assert.NotPanics(t, func() { conn.deliver("not json") })
}

func TestInvalidIDDropped(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var responses, messages int
	client.OnMessage(func(Message) { messages++ })
	require.NoError(t, client.Send("request", func(Response) { responses++ }))

	assert.NotPanics(t, func() { conn.deliver(`{"id":"abc","data":{}}`) })

	assert.Zero(t, responses)
	assert.Zero(t, messages)
	assert.Equal(t, 1, client.Stats().Pending)
	assert.Equal(t, 1.0, testutil.ToFloat64(client.metrics.framesDropped.WithLabelValues("invalid_id")))
}

func TestSequenceWrapsAtMaximum(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	client.mu.Lock()
	client.table.sequence = MaxSequence
	client.mu.Unlock()

	require.NoError(t, client.Send("a", func(Response) {}))
	require.NoError(t, client.Send("b", func(Response) {}))

	assert.Equal(t, []int64{MaxSequence, 0}, conn.sentIDs(t))
	assert.Equal(t, int64(1), client.Stats().NextID)
}

func TestOnMessageLastRegistrationWins(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var first, second int
	client.OnMessage(func(Message) { first++ })
	client.OnMessage(func(Message) { second++ })

	conn.deliver(`{"data":1}`)

	assert.Zero(t, first)
	assert.Equal(t, 1, second)
}

func TestCallbackMaySendAgain(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	var chained bool
	require.NoError(t, client.Send("first", func(Response) {
		require.NoError(t, client.Send("second", func(Response) { chained = true }))
	}))

	conn.deliver(`{"id":0,"data":null}`)
	conn.deliver(`{"id":1,"data":null}`)

	assert.True(t, chained)
	assert.Zero(t, client.Stats().Pending)
}

func TestSendEncodeError(t *testing.T) {
	client, _, _ := newTestClient(t, quietConfig())

	err := client.Send(make(chan int), func(Response) {})

	assert.ErrorIs(t, err, ErrEncode)
	assert.Zero(t, client.Stats().Pending)
}

func TestSendNilRawMessageEncodesNull(t *testing.T) {
	client, transport, _ := newTestClient(t, quietConfig())
	conn := transport.last()
	conn.open()

	require.NoError(t, client.Send(json.RawMessage(nil), func(Response) {}))
	require.NoError(t, client.Send(nil, func(Response) {}))

	assert.Equal(t, []string{`{"id":0,"data":null}`, `{"id":1,"data":null}`}, conn.frames())
}

func TestSendBeforeConnectIsRetried(t *testing.T) {
	config := quietConfig()
	config.RequestTimeout = 50 * time.Millisecond
	client, transport, clock := newIdleTestClient(t, config)

	require.NoError(t, client.Send("early", func(Response) {}))
	require.NoError(t, client.Send("fire and forget", nil))
	assert.Equal(t, 1, client.Stats().Queued)

	require.NoError(t, client.Connect())
	conn := transport.last()
	conn.open()
	assert.Empty(t, conn.frames())

	clock.Advance(time.Second)
	client.scanRetries()

	assert.Equal(t, []string{`{"id":0,"data":"early"}`}, conn.frames())
}

func TestSendAfterClose(t *testing.T) {
	client, _, _ := newTestClient(t, quietConfig())
	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.Send("late", nil), ErrClosed)
}

func TestCorrelationTable(t *testing.T) {
	table := newCorrelationTable()

	id := table.allocate()
	table.register(id, func(Response) {})
	assert.True(t, table.has(id))
	assert.Equal(t, 1, table.len())

	_, ok := table.resolve(id)
	assert.True(t, ok)
	assert.False(t, table.has(id))

	_, ok = table.resolve(id)
	assert.False(t, ok)
}
