// ABOUTME: Test doubles for the transport binding and clock
// ABOUTME: Lets tests drive open/message/close events deterministically
package wsr2

import (
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
)

type fakeTransport struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failDial bool
}

func (t *fakeTransport) Open(url string, events Events) Conn {
	fc := &fakeConn{events: events, state: ConnConnecting}

	t.mu.Lock()
	t.conns = append(t.conns, fc)
	fail := t.failDial
	t.mu.Unlock()

	if fail {
		go fc.drop()
	}
	return fc
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) setFailDial(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failDial = fail
}

type fakeConn struct {
	mu     sync.Mutex
	events Events
	state  ConnState
	sent   [][]byte
}

func (f *fakeConn) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != ConnOpen {
		return ErrNotOpen
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) Close() error {
	f.drop()
	return nil
}

// open completes the dial
func (f *fakeConn) open() {
	f.mu.Lock()
	f.state = ConnOpen
	f.mu.Unlock()
	f.events.OnOpen()
}

// drop closes the connection from the remote side; only the first drop emits
func (f *fakeConn) drop() {
	f.mu.Lock()
	if f.state == ConnClosed {
		f.mu.Unlock()
		return
	}
	f.state = ConnClosed
	f.mu.Unlock()
	f.events.OnClose()
}

func (f *fakeConn) deliver(payload string) {
	f.events.OnMessage([]byte(payload))
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.sent))
	for i, b := range f.sent {
		out[i] = string(b)
	}
	return out
}

// sentIDs decodes the correlation id of every frame sent on f
func (f *fakeConn) sentIDs(t *testing.T) []int64 {
	t.Helper()

	var ids []int64
	for _, frame := range f.frames() {
		var env struct {
			ID *int64 `json:"id"`
		}
		if err := json.Unmarshal([]byte(frame), &env); err != nil {
			t.Fatalf("sent frame is not json: %v", err)
		}
		if env.ID != nil {
			ids = append(ids, *env.ID)
		}
	}
	return ids
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLoggerFactory() logging.LoggerFactory {
	return &logging.DefaultLoggerFactory{
		Writer:          io.Discard,
		DefaultLogLevel: logging.LogLevelDisabled,
	}
}

// quietConfig returns a config whose tickers never fire during a test
func quietConfig() Config {
	config := DefaultConfig()
	config.AutoReconnectInterval = time.Hour
	config.RequestTimeout = time.Hour
	config.RequestRetryInterval = time.Hour
	config.LoggerFactory = quietLoggerFactory()
	return config
}

// newTestClient creates a connected client on a fake transport and fake clock
func newTestClient(t *testing.T, config Config) (*Client, *fakeTransport, *fakeClock) {
	t.Helper()

	client, transport, clock := newIdleTestClient(t, config)
	if err := client.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	return client, transport, clock
}

// newIdleTestClient creates a client that has not started dialing
func newIdleTestClient(t *testing.T, config Config) (*Client, *fakeTransport, *fakeClock) {
	t.Helper()

	transport := &fakeTransport{}
	config.Transport = transport
	if config.LoggerFactory == nil {
		config.LoggerFactory = quietLoggerFactory()
	}

	clock := newFakeClock()
	client := New("ws://example.test", config)
	client.now = clock.Now

	t.Cleanup(func() { client.Close() })

	return client, transport, clock
}
