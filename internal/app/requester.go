// ABOUTME: Demo client application orchestration
// ABOUTME: Issues periodic correlated requests through pkg/wsr2 and reports progress
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/wsr2-go/internal/latency"
	"github.com/Resonate-Protocol/wsr2-go/internal/ui"
	"github.com/Resonate-Protocol/wsr2-go/pkg/wsr2"
	"github.com/pion/logging"
)

const statusInterval = 500 * time.Millisecond

// Config holds requester configuration
type Config struct {
	ServerURL string

	// Interval between requests. Zero disables periodic sending.
	Interval time.Duration

	Client wsr2.Config

	// LoggerFactory is shared with the client. If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory

	// OnStatus receives UI updates. Optional.
	OnStatus func(ui.StatusMsg)
}

// Stats summarizes the requester's activity
type Stats struct {
	Sent     int64
	Answered int64
	Pushes   int64
	Reopens  int64
	Latency  latency.Stats
	Client   wsr2.Stats
}

// Requester drives a wsr2 client with a steady stream of account lookups
type Requester struct {
	config Config
	client *wsr2.Client
	log    logging.LeveledLogger

	sent     atomic.Int64
	answered atomic.Int64
	pushes   atomic.Int64
	reopens  atomic.Int64
	latency  *latency.Tracker

	sendNow chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// accountRequest is the body of every request
type accountRequest struct {
	Action string `json:"action"`
	Seq    int64  `json:"seq"`
}

// New creates a requester
func New(config Config) *Requester {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	config.Client.LoggerFactory = config.LoggerFactory

	ctx, cancel := context.WithCancel(context.Background())

	return &Requester{
		config:  config,
		log:     config.LoggerFactory.NewLogger("app"),
		latency: latency.NewTracker(max(latency.DefaultStaleAfter, 3*config.Interval)),
		sendNow: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects and begins sending
func (r *Requester) Start() error {
	if r.config.ServerURL == "" {
		return fmt.Errorf("no server URL configured")
	}

	r.log.Infof("Connecting to %s", r.config.ServerURL)
	r.status(ui.StatusMsg{ServerURL: r.config.ServerURL})

	r.client = wsr2.New(r.config.ServerURL, r.config.Client)
	r.client.OnOpen(func() {
		r.log.Info("Connection opened")
		r.connectionEvent(true, "Connection opened")
		r.Send()
	})
	r.client.OnReopen(func() {
		r.reopens.Add(1)
		r.log.Info("Connection re-established")
		r.connectionEvent(true, "Connection re-established")
	})
	r.client.OnClose(func() {
		r.log.Warn("Connection closed")
		r.connectionEvent(false, "Connection closed")
	})
	r.client.OnMessage(r.handleMessage)
	if err := r.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.sendLoop()
	}()
	go func() {
		defer r.wg.Done()
		r.statusLoop()
	}()

	return nil
}

// Send issues one account request
func (r *Requester) Send() {
	seq := r.sent.Add(1)
	started := time.Now()

	err := r.client.Send(accountRequest{Action: "account", Seq: seq}, func(resp wsr2.Response) {
		rtt := time.Since(started)
		r.answered.Add(1)
		r.latency.Observe(rtt)
		r.log.Debugf("Response id = %d after %s: %s", resp.ID, rtt, resp.Data)
	})
	if err != nil {
		r.sent.Add(-1)
		r.log.Errorf("Send failed: %v", err)
	}
}

// SendNow requests an immediate send from the send loop
func (r *Requester) SendNow() {
	select {
	case r.sendNow <- struct{}{}:
	default:
	}
}

// Stats returns a snapshot of the requester's counters
func (r *Requester) Stats() Stats {
	s := Stats{
		Sent:     r.sent.Load(),
		Answered: r.answered.Load(),
		Pushes:   r.pushes.Load(),
		Reopens:  r.reopens.Load(),
		Latency:  r.latency.Stats(),
	}
	if r.client != nil {
		s.Client = r.client.Stats()
	}
	return s
}

// Stop closes the client and waits for the loops to exit
func (r *Requester) Stop() {
	r.cancel()
	r.wg.Wait()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.log.Warnf("Error closing client: %v", err)
		}
	}
}

// handleMessage counts unsolicited messages from the server
func (r *Requester) handleMessage(m wsr2.Message) {
	r.pushes.Add(1)
	if m.IsRaw() {
		r.log.Infof("Server message: %s", m.Raw)
		return
	}
	r.log.Infof("Server message: %s", m.Data)
}

// sendLoop sends on every interval tick and on demand
func (r *Requester) sendLoop() {
	var tick <-chan time.Time
	if r.config.Interval > 0 {
		ticker := time.NewTicker(r.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			r.Send()
		case <-r.sendNow:
			r.Send()
		case <-r.ctx.Done():
			return
		}
	}
}

// statusLoop periodically reports counters
func (r *Requester) statusLoop() {
	if r.config.OnStatus == nil {
		return
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.status(r.statusMsg())
		case <-r.ctx.Done():
			return
		}
	}
}

// statusMsg converts Stats into a UI update
func (r *Requester) statusMsg() ui.StatusMsg {
	s := r.Stats()
	connected := s.Client.Connected

	return ui.StatusMsg{
		Connected: &connected,
		State:     s.Client.State.String(),
		Stats: &ui.Stats{
			Sent:     s.Sent,
			Answered: s.Answered,
			Pushes:   s.Pushes,
			Reopens:  s.Reopens,
			Pending:  s.Client.Pending,
			Queued:   s.Client.Queued,
			Attempts: s.Client.Attempts,
			NextID:   s.Client.NextID,
			LastRTT:  s.Latency.Last,
			RTT:      s.Latency.Smoothed,
			Quality:  s.Latency.Quality.String(),
		},
	}
}

func (r *Requester) connectionEvent(connected bool, event string) {
	r.status(ui.StatusMsg{
		Connected: &connected,
		Event:     fmt.Sprintf("%s %s", time.Now().Format("15:04:05"), event),
	})
}

func (r *Requester) status(msg ui.StatusMsg) {
	if r.config.OnStatus != nil {
		r.config.OnStatus(msg)
	}
}
