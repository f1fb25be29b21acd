// ABOUTME: Transport binding for a single WebSocket connection
// ABOUTME: Dials asynchronously and reports open/message/close events
package wsr2

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// handshakeTimeout bounds a single dial attempt
	handshakeTimeout = 10 * time.Second

	// writeTimeout bounds a single frame write
	writeTimeout = 10 * time.Second
)

// ErrNotOpen is returned by Conn.Send when the connection is not open
var ErrNotOpen = errors.New("connection is not open")

// ConnState is the ready state of a transport connection
type ConnState int32

const (
	ConnConnecting ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events receives the lifecycle of one connection.
// OnClose is delivered exactly once, including when the dial fails.
type Events struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func()
}

// Transport opens connections. Open returns immediately with a connection
// in the ConnConnecting state; events must never be delivered from inside Open.
type Transport interface {
	Open(url string, events Events) Conn
}

// Conn is a single transport connection
type Conn interface {
	Send(data []byte) error
	State() ConnState
	Close() error
}

// WebSocketTransport opens gorilla/websocket connections
type WebSocketTransport struct {
	dialer *websocket.Dialer
}

// NewWebSocketTransport creates a transport using dialer, or a default dialer when nil
func NewWebSocketTransport(dialer *websocket.Dialer) *WebSocketTransport {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	return &WebSocketTransport{dialer: dialer}
}

// Open starts dialing url in the background
func (t *WebSocketTransport) Open(url string, events Events) Conn {
	ctx, cancel := context.WithCancel(context.Background())

	s := &socket{cancel: cancel}
	s.state.Store(int32(ConnConnecting))

	go s.run(ctx, t.dialer, url, events)

	return s
}

// socket is a Conn backed by a gorilla websocket
type socket struct {
	state  atomic.Int32
	cancel context.CancelFunc

	// mu protects conn and serializes writes
	mu   sync.Mutex
	conn *websocket.Conn
}

// run dials, then pumps inbound frames until the connection fails
func (s *socket) run(ctx context.Context, dialer *websocket.Dialer, url string, events Events) {
	defer func() {
		s.state.Store(int32(ConnClosed))
		s.cancel()
		if events.OnClose != nil {
			events.OnClose()
		}
	}()

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	if s.State() == ConnClosed {
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.state.Store(int32(ConnOpen))
	s.mu.Unlock()

	if events.OnOpen != nil {
		events.OnOpen()
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if events.OnMessage != nil {
			events.OnMessage(data)
		}
	}
}

// Send writes data as a single text frame
func (s *socket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != ConnOpen || s.conn == nil {
		return ErrNotOpen
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// State returns the current ready state
func (s *socket) State() ConnState {
	return ConnState(s.state.Load())
}

// Close aborts a pending dial or closes the open connection
func (s *socket) Close() error {
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(int32(ConnClosed))
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
