// ABOUTME: Reconnection state machine
// ABOUTME: Owns the connection handle and retries it on a fixed interval
package wsr2

import "time"

// State is the connection state of a Client
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateGivenUp:
		return "given up"
	default:
		return "unknown"
	}
}

// openLocked replaces the connection handle with a fresh one.
// Events from earlier handles are ignored from here on.
func (c *Client) openLocked() {
	c.generation++
	gen := c.generation

	c.state = StateConnecting
	c.conn = c.config.Transport.Open(c.url, Events{
		OnOpen:    func() { c.handleOpen(gen) },
		OnMessage: func(data []byte) { c.handleMessage(gen, data) },
		OnClose:   func() { c.handleClose(gen) },
	})
}

// reconnectLocked makes one reconnect attempt if the budget allows and
// the current handle is fully closed. It reports whether an attempt was made.
func (c *Client) reconnectLocked() bool {
	if c.closed || c.givenUp || c.connected {
		return false
	}
	if c.conn != nil && c.conn.State() != ConnClosed {
		return false
	}
	if c.attempts >= c.config.AutoReconnectMaxRetries {
		return false
	}

	c.attempts++
	c.metrics.reconnectAttempts.Inc()
	c.log.Debugf("Reconnect attempt %d/%d to %s", c.attempts, c.config.AutoReconnectMaxRetries, c.url)

	c.openLocked()
	return true
}

// handleOpen marks the client connected and fires open or reopen
func (c *Client) handleOpen(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}

	c.connected = true
	c.state = StateConnected
	c.attempts = 0
	c.metrics.connected.Inc()

	var cb func()
	if !c.initialConnectionEstablished {
		c.initialConnectionEstablished = true
		c.metrics.connectionEvents.WithLabelValues("open").Inc()
		c.log.Infof("Connected to %s", c.url)
		cb = c.onOpen
	} else {
		c.metrics.connectionEvents.WithLabelValues("reopen").Inc()
		c.log.Infof("Reconnected to %s", c.url)
		cb = c.onReopen
	}
	c.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// handleClose fires the close callback once per disconnect and arms a reconnect.
// Close events while already disconnected, such as a failed attempt, are suppressed.
func (c *Client) handleClose(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	if !c.connected {
		if !c.givenUp {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return
	}

	c.connected = false
	c.state = StateDisconnected
	if c.givenUp {
		c.state = StateGivenUp
	}
	c.metrics.connected.Dec()
	c.metrics.connectionEvents.WithLabelValues("close").Inc()
	c.log.Infof("Connection to %s closed", c.url)
	cb := c.onClose
	c.mu.Unlock()

	if cb != nil {
		cb()
	}

	if !c.config.DisableAutoReconnect {
		c.mu.Lock()
		c.reconnectLocked()
		c.mu.Unlock()
	}
}

// reconnectTick runs on every reconnect interval. It reports false once the
// retry budget is exhausted, after which no further attempts are made.
func (c *Client) reconnectTick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	if c.attempts >= c.config.AutoReconnectMaxRetries {
		c.givenUp = true
		if !c.connected {
			c.state = StateGivenUp
		}
		c.metrics.reconnectGiveUps.Inc()
		c.log.Info("Max retries exceeded. Re-connection attempts will no longer be made.")
		return false
	}

	c.reconnectLocked()
	return true
}

// reconnectLoop drives reconnectTick every AutoReconnectInterval
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.AutoReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.reconnectTick() {
				return
			}
		}
	}
}
