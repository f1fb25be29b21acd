// ABOUTME: Reliable WebSocket client
// ABOUTME: Reconnects transparently and correlates requests with responses
package wsr2

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/wsr2-go/pkg/protocol"
	"github.com/pion/logging"
)

var (
	// ErrClosed is returned by Send after Close
	ErrClosed = errors.New("client is closed")

	// ErrEncode is returned by Send when data cannot be encoded as JSON
	ErrEncode = errors.New("failed to encode message data")
)

// Client is a WebSocket client that survives transport drops and
// correlates asynchronous responses with the requests that caused them.
//
// All state is guarded by mu. Callbacks are never invoked while mu is
// held, so they may call back into the client.
type Client struct {
	url     string
	config  Config
	log     logging.LeveledLogger
	metrics *metrics
	now     func() time.Time

	mu         sync.Mutex
	conn       Conn
	generation uint64
	state      State
	connected  bool
	givenUp    bool
	attempts   int
	started    bool
	closed     bool

	initialConnectionEstablished bool

	table *correlationTable
	queue *retryQueue

	onOpen    func()
	onMessage func(Message)
	onClose   func()
	onReopen  func()

	done chan struct{}
	wg   sync.WaitGroup
}

// Stats is a point-in-time view of a Client
type Stats struct {
	State     State
	Connected bool
	Attempts  int
	Pending   int
	Queued    int
	NextID    int64
}

// New creates a client for url. No connection is made until Connect is
// called, so callbacks registered before Connect see every event.
func New(url string, config Config) *Client {
	config = config.withDefaults()

	return &Client{
		url:     url,
		config:  config,
		log:     config.LoggerFactory.NewLogger("wsr2"),
		metrics: newMetrics(config.Registerer),
		now:     time.Now,
		state:   StateDisconnected,
		table:   newCorrelationTable(),
		queue:   newRetryQueue(config.RequestRetryQueueMaxLength),
		done:    make(chan struct{}),
	}
}

// Connect opens the first connection and starts the reconnect and retry
// loops. Calling it again is a no-op. It returns ErrClosed after Close.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	c.openLocked()

	if !c.config.DisableAutoReconnect {
		c.wg.Add(1)
		go c.reconnectLoop()
	}

	if c.config.retryEnabled() {
		c.wg.Add(1)
		go c.retryLoop()
	}

	return nil
}

// OnOpen sets the callback fired on the first successful connection
func (c *Client) OnOpen(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = cb
}

// OnMessage sets the callback for unsolicited messages
func (c *Client) OnMessage(cb func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = cb
}

// OnClose sets the callback fired once per disconnect
func (c *Client) OnClose(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = cb
}

// OnReopen sets the callback fired on every successful reconnection
func (c *Client) OnReopen(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReopen = cb
}

// Send encodes data and sends it to the server.
//
// With a nil callback the message is fire-and-forget. Otherwise it is
// assigned a correlation id and resent until a response arrives or it is
// evicted from the retry queue; cb runs once with the response.
// Transport failures are never returned: a correlated request sent while
// disconnected, or before Connect, is retried by the queue scan.
func (c *Client) Send(data any, cb ResponseFunc) error {
	raw, err := encodeData(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	env := protocol.NewPush(raw)
	var id int64
	if cb != nil {
		id = c.table.allocate()
		env = protocol.NewRequest(id, raw)
	}

	payload, err := protocol.Encode(env)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	if cb != nil {
		c.table.register(id, cb)
		c.metrics.pending.Inc()
		c.metrics.requestsSent.WithLabelValues("correlated").Inc()

		evicted, ok := c.queue.push(retryEntry{id: id, payload: payload, sentAt: c.now()})
		if ok {
			c.log.Debugf("Retry queue full. Evicted id = %d", evicted.id)
			c.metrics.evictions.Inc()
		} else {
			c.metrics.queueLength.Inc()
		}
	} else {
		c.metrics.requestsSent.WithLabelValues("push").Inc()
	}

	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		err = ErrNotOpen
	} else {
		err = conn.Send(payload)
	}
	if err != nil {
		if cb != nil {
			c.log.Debugf("Send of id = %d failed, left for retry: %v", id, err)
		} else {
			c.log.Warnf("Dropping message: %v", err)
		}
	}

	return nil
}

// encodeData turns data into the envelope's data field
func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		if v == nil {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("invalid raw json")
		}
		return v, nil
	default:
		return json.Marshal(v)
	}
}

// Stats returns a snapshot of the client state
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		State:     c.state,
		Connected: c.connected,
		Attempts:  c.attempts,
		Pending:   c.table.len(),
		Queued:    c.queue.len(),
		NextID:    c.table.sequence,
	}
}

// Close stops reconnecting and retrying and closes the current connection.
// Events that arrive after Close are ignored.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	if c.connected {
		c.connected = false
		c.metrics.connected.Dec()
	}
	c.state = StateDisconnected
	c.metrics.pending.Sub(float64(c.table.len()))
	c.metrics.queueLength.Sub(float64(c.queue.len()))
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()

	if conn == nil {
		return nil
	}
	return conn.Close()
}
