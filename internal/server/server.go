// ABOUTME: Sample WSR2 endpoint
// ABOUTME: Greets every connection and answers correlated requests
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/wsr2-go/internal/discovery"
	"github.com/Resonate-Protocol/wsr2-go/pkg/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"
)

const (
	DefaultPort      = 3000
	DefaultPath      = "/"
	DefaultAccountID = 1234

	// Greeting is pushed to every new connection
	Greeting = "Hello Client"

	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 100
)

// Config holds server configuration
type Config struct {
	Port       int
	Path       string
	Name       string
	EnableMDNS bool
	UseTUI     bool

	// AccountID is returned in every response
	AccountID int

	// DropFirst is the number of correlated requests left unanswered
	// before the server starts responding. Clients see these as lost.
	DropFirst int

	// LoggerFactory creates the server logger. If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// Server is the sample endpoint
type Server struct {
	config   Config
	serverID string
	log      logging.LeveledLogger

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP server
	httpServer *http.Server
	mux        *http.ServeMux

	// Client management
	clients   map[string]*client
	clientsMu sync.RWMutex

	// Request accounting
	requests atomic.Int64
	answered atomic.Int64
	dropped  atomic.Int64

	// mDNS discovery
	mdnsManager *discovery.Manager

	// TUI
	tui *ServerTUI

	// Control
	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// client is one connected peer
type client struct {
	ID          string
	Addr        string
	Conn        *websocket.Conn
	ConnectedAt time.Time

	requests atomic.Int64
	sendChan chan []byte
	done     chan struct{}
	doneOnce sync.Once
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID          string
	Addr        string
	ConnectedAt time.Time
	Requests    int64
}

// Stats summarizes request handling since start
type Stats struct {
	Clients  int
	Requests int64
	Answered int64
	Dropped  int64
}

// New creates a server with defaults applied
func New(config Config) *Server {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Name == "" {
		config.Name = "WSR2 Server"
	}
	if config.AccountID == 0 {
		config.AccountID = DefaultAccountID
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		log:      config.LoggerFactory.NewLogger("wsr2-server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Sample endpoint: accept all origins
				return true
			},
		},
		mux:      http.NewServeMux(),
		clients:  make(map[string]*client),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)

	return s
}

// ID returns the server's unique id
func (s *Server) ID() string {
	return s.serverID
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.log.Infof("Server starting: %s (ID: %s)", s.config.Name, s.serverID)

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName:   s.config.Name,
			Port:          s.config.Port,
			Path:          s.config.Path,
			ServerID:      s.serverID,
			LoggerFactory: s.config.LoggerFactory,
		})

		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warnf("Failed to start mDNS advertisement: %v", err)
		} else {
			s.log.Info("mDNS advertisement started")
		}
	}

	if s.config.UseTUI {
		s.tui = NewServerTUI(s.DisconnectAll)
		go func() {
			if err := s.tui.Start(s.status()); err != nil {
				s.log.Errorf("TUI error: %v", err)
			}
			s.Stop()
		}()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.tuiLoop()
		}()
	}

	addr := fmt.Sprintf(":%d", s.config.Port)
	s.log.Infof("WebSocket server listening on %s%s", addr, s.config.Path)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-s.stopChan:
		s.log.Info("Server shutting down...")
	case err := <-errChan:
		s.log.Errorf("HTTP server error: %v", err)
		s.Stop()
		s.shutdown()
		return err
	}

	s.shutdown()
	s.log.Info("Server stopped cleanly")

	return nil
}

// shutdown stops accepting connections and drops the live ones
func (s *Server) shutdown() {
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}
	if s.tui != nil {
		s.tui.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warnf("HTTP server shutdown error: %v", err)
	}

	// Hijacked websocket connections are not closed by Shutdown
	s.DisconnectAll()
	s.wg.Wait()
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Clients returns information about all connected clients
func (s *Server) Clients() []ClientInfo {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, ClientInfo{
			ID:          c.ID,
			Addr:        c.Addr,
			ConnectedAt: c.ConnectedAt,
			Requests:    c.requests.Load(),
		})
	}

	return clients
}

// Stats returns request counters
func (s *Server) Stats() Stats {
	s.clientsMu.RLock()
	n := len(s.clients)
	s.clientsMu.RUnlock()

	return Stats{
		Clients:  n,
		Requests: s.requests.Load(),
		Answered: s.answered.Load(),
		Dropped:  s.dropped.Load(),
	}
}

// Push sends data to every connected client as an unsolicited message.
// It returns the number of clients the message was queued for.
func (s *Server) Push(data any) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode push: %w", err)
	}
	payload, err := protocol.Encode(protocol.NewPush(raw))
	if err != nil {
		return 0, err
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	n := 0
	for _, c := range s.clients {
		if s.send(c, payload) {
			n++
		}
	}
	return n, nil
}

// DisconnectAll closes every client connection
func (s *Server) DisconnectAll() {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for _, c := range s.clients {
		c.Conn.Close()
	}
}

// handleWebSocket upgrades and serves one connection
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	s.log.Infof("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn, r.RemoteAddr)
}

// handleConnection manages a client connection
func (s *Server) handleConnection(conn *websocket.Conn, addr string) {
	defer conn.Close()

	s.shutdownMu.RLock()
	if s.isShutdown {
		s.shutdownMu.RUnlock()
		s.log.Info("Rejecting connection during shutdown")
		return
	}
	s.shutdownMu.RUnlock()

	c := &client{
		ID:          uuid.New().String(),
		Addr:        addr,
		Conn:        conn,
		ConnectedAt: time.Now(),
		sendChan:    make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c.ID] = c
	s.clientsMu.Unlock()

	defer func() {
		s.removeClient(c)
		s.log.Infof("Client disconnected: %s", c.Addr)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	greeting, _ := json.Marshal(Greeting)
	payload, err := protocol.Encode(protocol.NewPush(greeting))
	if err == nil {
		s.send(c, payload)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warnf("WebSocket error: %v", err)
			}
			break
		}

		s.handleClientMessage(c, data)
	}
}

// removeClient unregisters c and stops its writer
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.ID)
	s.clientsMu.Unlock()

	c.doneOnce.Do(func() { close(c.done) })
}

// send queues payload for c without blocking
func (s *Server) send(c *client, payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.sendChan <- payload:
		return true
	default:
		s.log.Warnf("Send buffer full for %s, dropping message", c.Addr)
		return false
	}
}

// clientWriter sends queued frames and keepalive pings to the client
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case payload := <-c.sendChan:
			c.Conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// handleClientMessage answers correlated requests with the account id
func (s *Server) handleClientMessage(c *client, data []byte) {
	s.log.Debugf("%s", data)

	frame, err := protocol.Decode(data)
	if err != nil {
		s.log.Warnf("Ignoring message from %s: %v", c.Addr, err)
		return
	}
	if !frame.HasID {
		return
	}

	c.requests.Add(1)
	n := s.requests.Add(1)
	if n <= int64(s.config.DropFirst) {
		s.dropped.Add(1)
		s.log.Infof("Dropping request id = %d from %s (%d/%d)", frame.ID, c.Addr, n, s.config.DropFirst)
		return
	}

	body, _ := json.Marshal(map[string]int{"accountId": s.config.AccountID})
	payload, err := protocol.Encode(protocol.NewResponse(frame.ID, body))
	if err != nil {
		return
	}

	if s.send(c, payload) {
		s.answered.Add(1)
	}
}
