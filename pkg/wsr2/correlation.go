// ABOUTME: Correlation table and inbound message dispatch
// ABOUTME: Routes responses to the callback registered for their id
package wsr2

import (
	"encoding/json"
	"errors"

	"github.com/Resonate-Protocol/wsr2-go/pkg/protocol"
)

// MaxSequence is the largest correlation id handed out before the counter
// wraps to 0. It is the largest integer every JSON peer represents exactly.
const MaxSequence int64 = 1<<53 - 1

// Response is delivered to the callback of a correlated request
type Response struct {
	ID   int64
	Data json.RawMessage
}

// ResponseFunc receives the response to a correlated request
type ResponseFunc func(Response)

// Message is an unsolicited inbound payload.
// Raw is set instead of Data when the payload was not a JSON envelope.
type Message struct {
	Data json.RawMessage
	Raw  []byte
}

// IsRaw reports whether the payload could not be parsed as an envelope
func (m Message) IsRaw() bool {
	return m.Raw != nil
}

// correlationTable maps outstanding request ids to their callbacks
type correlationTable struct {
	sequence int64
	pending  map[int64]ResponseFunc
}

func newCorrelationTable() *correlationTable {
	return &correlationTable{
		pending: make(map[int64]ResponseFunc),
	}
}

// allocate returns the next id, wrapping to 0 after MaxSequence
func (t *correlationTable) allocate() int64 {
	id := t.sequence
	if t.sequence < MaxSequence {
		t.sequence++
	} else {
		t.sequence = 0
	}
	return id
}

func (t *correlationTable) register(id int64, cb ResponseFunc) {
	t.pending[id] = cb
}

// resolve removes and returns the callback for id
func (t *correlationTable) resolve(id int64) (ResponseFunc, bool) {
	cb, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return cb, ok
}

func (t *correlationTable) has(id int64) bool {
	_, ok := t.pending[id]
	return ok
}

func (t *correlationTable) len() int {
	return len(t.pending)
}

// handleMessage dispatches one inbound frame from connection gen
func (c *Client) handleMessage(gen uint64, payload []byte) {
	frame, err := protocol.Decode(payload)

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}

	switch {
	case errors.Is(err, protocol.ErrNotEnvelope):
		c.log.Warn("Response from server is not json")
		cb := c.onMessage
		c.mu.Unlock()
		if cb != nil {
			cb(Message{Raw: frame.Raw})
		}

	case err != nil:
		c.log.Errorf("Discarding frame from server: %v", err)
		c.metrics.framesDropped.WithLabelValues("invalid_id").Inc()
		c.mu.Unlock()

	case frame.HasID:
		cb, ok := c.table.resolve(frame.ID)
		if !ok {
			c.log.Debugf("No pending request for id = %d", frame.ID)
			c.metrics.framesDropped.WithLabelValues("unroutable").Inc()
			c.mu.Unlock()
			return
		}
		c.metrics.pending.Dec()
		c.metrics.responses.Inc()
		c.mu.Unlock()
		cb(Response{ID: frame.ID, Data: frame.Data})

	default:
		cb := c.onMessage
		c.mu.Unlock()
		if cb != nil {
			cb(Message{Data: frame.Data})
		}
	}
}
