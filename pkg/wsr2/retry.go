// ABOUTME: Retry queue for correlated requests
// ABOUTME: Resends requests that outlive the request timeout
package wsr2

import (
	"slices"
	"time"
)

// retryEntry is one correlated request awaiting its response
type retryEntry struct {
	id      int64
	payload []byte
	sentAt  time.Time
}

// retryQueue holds in-flight requests oldest first
type retryQueue struct {
	entries []retryEntry
	max     int
}

func newRetryQueue(max int) *retryQueue {
	return &retryQueue{max: max}
}

// push appends e, evicting the oldest entry when the queue overflows
func (q *retryQueue) push(e retryEntry) (evicted retryEntry, ok bool) {
	q.entries = append(q.entries, e)
	if len(q.entries) <= q.max {
		return retryEntry{}, false
	}

	evicted = q.entries[0]
	q.entries = slices.Delete(q.entries, 0, 1)
	return evicted, true
}

func (q *retryQueue) len() int {
	return len(q.entries)
}

// scan finds requests due for resend.
//
// The first pass walks the entries present at scan start, oldest first,
// marking resolved entries for removal and entries older than timeout for
// resend; it stops at the first entry that is neither. The second pass
// rebuilds the queue as the untouched remainder followed by the resent
// entries with their timestamps refreshed to now.
func (q *retryQueue) scan(now time.Time, timeout time.Duration, resolved func(id int64) bool) (resend []retryEntry, removed int) {
	n := len(q.entries)

	i := 0
	for ; i < n; i++ {
		e := q.entries[i]
		if resolved(e.id) {
			removed++
			continue
		}
		if now.Sub(e.sentAt) > timeout {
			resend = append(resend, e)
			continue
		}
		break
	}

	if i == 0 {
		return nil, 0
	}

	next := make([]retryEntry, 0, len(q.entries)-removed)
	next = append(next, q.entries[i:]...)
	for j := range resend {
		resend[j].sentAt = now
		next = append(next, resend[j])
	}
	q.entries = next

	return resend, removed
}

// scanRetries resends every request that has timed out.
// Resends go to whatever connection is current, even a closed one;
// a failed write is retried on a later scan. Nothing is written before Connect.
func (c *Client) scanRetries() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	resend, removed := c.queue.scan(c.now(), c.config.RequestTimeout, func(id int64) bool {
		return !c.table.has(id)
	})
	c.metrics.queueLength.Sub(float64(removed))
	conn := c.conn
	c.mu.Unlock()

	if removed > 0 {
		c.log.Debugf("Removed %d answered requests from retry queue", removed)
	}

	for _, e := range resend {
		c.log.Debugf("Request timeout detected. Resending id = %d", e.id)
		c.metrics.resends.Inc()
		if conn == nil {
			continue
		}
		if err := conn.Send(e.payload); err != nil {
			c.log.Debugf("Resend of id = %d failed: %v", e.id, err)
		}
	}
}

// retryLoop scans the retry queue every RequestRetryInterval until the client is closed
func (c *Client) retryLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.RequestRetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.scanRetries()
		}
	}
}
